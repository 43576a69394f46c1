// Package mock provides an in-memory [memory.VectorStore] with exact cosine
// search, for tests and for running without PostgreSQL.
package mock

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/edda-voice/edda/pkg/memory"
)

var _ memory.VectorStore = (*Store)(nil)

// Store is an in-memory VectorStore. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries []memory.Entry

	// Err, if non-nil, is returned by Add and Search.
	Err error
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Add implements [memory.VectorStore].
func (s *Store) Add(ctx context.Context, entries []memory.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.entries = append(s.entries, entries...)
	return nil
}

// Search implements [memory.VectorStore] with exact cosine similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, f memory.Filter) ([]memory.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var results []memory.SearchResult
	for _, e := range s.entries {
		if !matches(e, f) {
			continue
		}
		results = append(results, memory.SearchResult{
			Entry:      e,
			Similarity: cosine(embedding, e.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete implements [memory.VectorStore].
func (s *Store) Delete(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.entries = slices.DeleteFunc(s.entries, func(e memory.Entry) bool {
		return slices.Contains(ids, e.ID)
	})
	return nil
}

// DeleteByFilter implements [memory.VectorStore].
func (s *Store) DeleteByFilter(ctx context.Context, f memory.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if f.IsZero() {
		return errors.New("mock: refusing to delete with an empty filter")
	}
	s.entries = slices.DeleteFunc(s.entries, func(e memory.Entry) bool {
		return matches(e, f)
	})
	return nil
}

// Count implements [memory.VectorStore].
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return int64(len(s.entries)), nil
}

// Close implements [memory.VectorStore].
func (s *Store) Close() {}

// Len returns how many entries are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of all stored entries.
func (s *Store) Entries() []memory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Entry(nil), s.entries...)
}

func matches(e memory.Entry, f memory.Filter) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.ConversationID != "" && e.ConversationID != f.ConversationID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	// Date bounds are inclusive on both ends.
	if !f.After.IsZero() && e.CreatedAt.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && e.CreatedAt.After(f.Before) {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
