package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/edda-voice/edda/pkg/provider/embeddings"
)

const (
	// DefaultDecayWeight blends recency into the ranking score:
	// score = (1−w)·similarity + w·recency.
	DefaultDecayWeight = 0.3

	// DefaultHalfLifeHours is the age at which an entry's recency factor
	// halves. One week keeps recent days dominant without erasing older
	// memories entirely.
	DefaultHalfLifeHours = 168.0

	// oversampleMin and oversampleMax bound how many candidates a
	// time-decay search fetches before re-ranking. Fetching more than the
	// final limit matters: a slightly less similar but much fresher entry
	// can only win if it was retrieved at all.
	oversampleMin = 30
	oversampleMax = 50
)

// Service is the memory layer's public API: it owns embedding of content and
// queries, delegates persistence to a VectorStore, and implements time-decay
// re-ranking on top of plain similarity search.
//
// Service is safe for concurrent use.
type Service struct {
	store    VectorStore
	embedder embeddings.Provider

	decayWeight   float64
	halfLifeHours float64

	// now is swapped in tests.
	now func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDecayWeight sets the recency blend weight in [0, 1].
func WithDecayWeight(w float64) ServiceOption {
	return func(s *Service) { s.decayWeight = w }
}

// WithHalfLife sets the recency half-life in hours.
func WithHalfLife(hours float64) ServiceOption {
	return func(s *Service) { s.halfLifeHours = hours }
}

// NewService creates a memory Service over the given store and embedder.
func NewService(store VectorStore, embedder embeddings.Provider, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		embedder:      embedder,
		decayWeight:   DefaultDecayWeight,
		halfLifeHours: DefaultHalfLifeHours,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddBatch embeds and stores the given entries with a single embedding call.
// Missing IDs are assigned; missing timestamps are filled with now plus a one
// second stagger per entry, so entries stored together keep a stable relative
// order under time-decay ranking.
func (s *Service) AddBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory: embed batch: %w", err)
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("memory: embedder returned %d vectors for %d entries", len(vecs), len(entries))
	}

	base := s.now()
	for i := range entries {
		entries[i].Embedding = vecs[i]
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
	}

	if err := s.store.Add(ctx, entries); err != nil {
		return fmt.Errorf("memory: store entries: %w", err)
	}
	return nil
}

// Exchange is one user/assistant turn pair from a finished conversation.
type Exchange struct {
	UserText      string
	AssistantText string
}

// PersistExchanges stores a conversation's turn pairs as "exchange" entries.
// Each pair becomes one entry so retrieval returns the question together with
// its answer. Timestamps are staggered one second per pair from the
// conversation's start, so the pairs keep their order under time-decay
// ranking no matter when persistence actually ran; a zero startedAt falls
// back to the insertion time.
func (s *Service) PersistExchanges(ctx context.Context, conversationID string, startedAt time.Time, exchanges []Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(exchanges))
	for i, ex := range exchanges {
		e := Entry{
			Type:           "exchange",
			ConversationID: conversationID,
			Content:        fmt.Sprintf("User: %s\nAssistant: %s", ex.UserText, ex.AssistantText),
			Metadata:       map[string]any{"turn_index": i},
		}
		if !startedAt.IsZero() {
			e.CreatedAt = startedAt.Add(time.Duration(i) * time.Second)
		}
		entries = append(entries, e)
	}
	return s.AddBatch(ctx, entries)
}

// Delete removes the entries with the given IDs.
func (s *Service) Delete(ctx context.Context, ids []uuid.UUID) error {
	if err := s.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	return nil
}

// DeleteByFilter removes every entry matching f.
func (s *Service) DeleteByFilter(ctx context.Context, f Filter) error {
	if err := s.store.DeleteByFilter(ctx, f); err != nil {
		return fmt.Errorf("memory: delete by filter: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

// Search embeds the query and returns up to limit entries by plain cosine
// similarity.
func (s *Service) Search(ctx context.Context, query string, limit int, f Filter) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	results, err := s.store.Search(ctx, vec, limit, f)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	for i := range results {
		results[i].Score = results[i].Similarity
	}
	return results, nil
}

// SearchWithTimeDecay embeds the query, oversamples candidates by
// similarity, then re-ranks them with a recency blend:
//
//	recency = 2^(−age_seconds / (halfLife_hours · 3600))
//	score   = (1−w)·similarity + w·recency
//
// and returns the top limit entries by score.
func (s *Service) SearchWithTimeDecay(ctx context.Context, query string, limit int, f Filter) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	oversample := limit * 5
	if oversample < oversampleMin {
		oversample = oversampleMin
	}
	if oversample > oversampleMax {
		oversample = oversampleMax
	}

	candidates, err := s.store.Search(ctx, vec, oversample, f)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	now := s.now()
	for i := range candidates {
		age := now.Sub(candidates[i].Entry.CreatedAt).Seconds()
		if age < 0 {
			age = 0
		}
		recency := math.Exp2(-age / (s.halfLifeHours * 3600))
		candidates[i].Score = (1-s.decayWeight)*candidates[i].Similarity + s.decayWeight*recency
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
