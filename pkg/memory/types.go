package memory

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one remembered item: a conversation exchange, a fact the user
// asked to remember, or anything else worth recalling later.
type Entry struct {
	// ID uniquely identifies the entry. Assigned on insert when zero.
	ID uuid.UUID

	// Type categorises the entry ("exchange", "fact", "preference", ...).
	Type string

	// ConversationID links the entry to the conversation that produced it.
	// Empty for entries not tied to a conversation.
	ConversationID string

	// SessionID links the entry to the client session that produced it.
	// Empty for entries not tied to a session.
	SessionID string

	// Content is the text that was embedded.
	Content string

	// Metadata holds free-form extra fields (e.g. turn_index for exchange
	// entries). May be nil.
	Metadata map[string]any

	// Embedding is the content's vector. Populated by the service on insert;
	// present on search results.
	Embedding []float32

	// CreatedAt is when the entry was stored. Drives time-decay ranking.
	CreatedAt time.Time
}

// SearchResult is one ranked entry returned from a search.
type SearchResult struct {
	Entry Entry

	// Similarity is cosine similarity against the query in [−1, 1]
	// (1 − cosine distance).
	Similarity float64

	// Score is the final ranking score. Equal to Similarity for plain
	// searches; the decay-blended score for time-decay searches.
	Score float64
}

// Filter restricts which entries a search considers. Zero fields are
// ignored. Types match any-of; all other fields must all hold.
type Filter struct {
	// Types restricts to entries whose Type is one of these values.
	Types []string

	// ConversationID restricts to a single conversation.
	ConversationID string

	// SessionID restricts to a single session.
	SessionID string

	// After and Before bound CreatedAt (inclusive on both ends).
	After  time.Time
	Before time.Time
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return len(f.Types) == 0 && f.ConversationID == "" && f.SessionID == "" &&
		f.After.IsZero() && f.Before.IsZero()
}
