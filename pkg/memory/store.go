// Package memory implements long-term semantic memory for the assistant:
// embedded entries in a vector store, retrieved by similarity and re-ranked
// by recency so that what the user said yesterday outranks an equally similar
// remark from last year.
package memory

import (
	"context"

	"github.com/google/uuid"
)

// VectorStore is the persistence abstraction under the memory [Service].
// Entries arrive pre-embedded; Search ranks by ascending cosine distance.
//
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Add inserts the given pre-embedded entries.
	Add(ctx context.Context, entries []Entry) error

	// Search returns up to limit entries closest to the query embedding,
	// filtered by f, ordered by descending similarity.
	Search(ctx context.Context, embedding []float32, limit int, f Filter) ([]SearchResult, error)

	// Delete removes the entries with the given IDs. Unknown IDs are
	// ignored.
	Delete(ctx context.Context, ids []uuid.UUID) error

	// DeleteByFilter removes every entry matching f. An empty filter is
	// rejected so a zero value cannot wipe the store.
	DeleteByFilter(ctx context.Context, f Filter) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Close releases the store's resources.
	Close()
}
