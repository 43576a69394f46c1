package promptctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edda-voice/edda/pkg/memory"
)

// Replacement order for the built-in providers. Time goes in first so later
// providers could in principle reference a stable prompt head.
const (
	timePriority         = 10
	conversationPriority = 20
	memoryPriority       = 30
)

// TimeProvider fills the time_context placeholder with the local date, time,
// and a coarse time-of-day bucket.
type TimeProvider struct {
	// Location for rendering. Nil means time.Local.
	Location *time.Location
}

func (p *TimeProvider) Key() string   { return "time_context" }
func (p *TimeProvider) Priority() int { return timePriority }

func (p *TimeProvider) GetContext(_ context.Context, req Request) (string, error) {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	now := req.Now.In(loc)
	return fmt.Sprintf("It is %s in the %s.",
		now.Format("Monday, January 2, 2006, 3:04 PM"),
		timeOfDay(now.Hour())), nil
}

func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// ConversationProvider fills conversation_context once a conversation has
// been going long enough that continuity is worth reminding the model about.
// Short exchanges keep the prompt lean.
type ConversationProvider struct {
	// MinTurns is the turn count at which the provider starts emitting.
	// Zero means 3.
	MinTurns int
}

func (p *ConversationProvider) Key() string   { return "conversation_context" }
func (p *ConversationProvider) Priority() int { return conversationPriority }

func (p *ConversationProvider) GetContext(_ context.Context, req Request) (string, error) {
	min := p.MinTurns
	if min <= 0 {
		min = 3
	}
	if req.TurnCount < min {
		return "", nil
	}
	return fmt.Sprintf(
		"This conversation is %d turns in. Stay consistent with what was already said and avoid repeating yourself.",
		req.TurnCount), nil
}

// MemorySearcher is the slice of [memory.Service] the memory provider needs.
type MemorySearcher interface {
	SearchWithTimeDecay(ctx context.Context, query string, limit int, f memory.Filter) ([]memory.SearchResult, error)
}

// MemoryProvider fills memory_context with past exchanges relevant to the
// current user message, ranked by similarity with time decay.
type MemoryProvider struct {
	Searcher MemorySearcher

	// Limit caps how many memories are rendered. Zero means 5.
	Limit int

	// Types filters which memory entry types are searched.
	// Empty means {"exchange"}.
	Types []string
}

func (p *MemoryProvider) Key() string   { return "memory_context" }
func (p *MemoryProvider) Priority() int { return memoryPriority }

func (p *MemoryProvider) GetContext(ctx context.Context, req Request) (string, error) {
	if p.Searcher == nil || strings.TrimSpace(req.UserMessage) == "" {
		return "", nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}
	types := p.Types
	if len(types) == 0 {
		types = []string{"exchange"}
	}

	results, err := p.Searcher.SearchWithTimeDecay(ctx, req.UserMessage, limit, memory.Filter{Types: types})
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Things you remember from earlier conversations:\n")
	for _, r := range results {
		sb.WriteString("- ")
		sb.WriteString(strings.ReplaceAll(strings.TrimSpace(r.Entry.Content), "\n", " "))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
