package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edda-voice/edda/pkg/memory"
	"github.com/edda-voice/edda/pkg/types"
)

// Conversation is the ordered message log for one activation of the
// assistant. The system prompt, when present, is always message 0. Safe for
// concurrent use; the session layer appends from the agent goroutine while
// teardown may read it for persistence.
type Conversation struct {
	// ID ties memories persisted from this conversation together.
	ID string

	mu       sync.Mutex
	messages []types.ChatMessage
	started  time.Time
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	return &Conversation{
		ID:      uuid.NewString(),
		started: time.Now(),
	}
}

// StartedAt returns when the conversation was created.
func (c *Conversation) StartedAt() time.Time { return c.started }

// HasSystemPrompt reports whether a system message is installed.
func (c *Conversation) HasSystemPrompt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) > 0 && c.messages[0].Role == types.RoleSystem
}

// SetSystemPrompt installs or replaces the system message at index 0.
func (c *Conversation) SetSystemPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := types.ChatMessage{Role: types.RoleSystem, Content: text}
	if len(c.messages) > 0 && c.messages[0].Role == types.RoleSystem {
		c.messages[0] = msg
		return
	}
	c.messages = append([]types.ChatMessage{msg}, c.messages...)
}

// Append adds messages to the end of the log.
func (c *Conversation) Append(msgs ...types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// UserTurns counts the user messages in the log.
func (c *Conversation) UserTurns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.messages {
		if m.Role == types.RoleUser {
			n++
		}
	}
	return n
}

// Exchanges pairs each user message with the next assistant message that has
// text content, skipping tool plumbing in between. Pairs whose assistant
// reply is empty are dropped. The result is what gets persisted to memory
// when the conversation ends.
func (c *Conversation) Exchanges() []memory.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []memory.Exchange
	for i := 0; i < len(c.messages); i++ {
		if c.messages[i].Role != types.RoleUser {
			continue
		}
		user := c.messages[i].Content
		for j := i + 1; j < len(c.messages); j++ {
			if c.messages[j].Role == types.RoleUser {
				break
			}
			if c.messages[j].Role == types.RoleAssistant && c.messages[j].Content != "" {
				out = append(out, memory.Exchange{
					UserText:      user,
					AssistantText: c.messages[j].Content,
				})
				break
			}
		}
	}
	return out
}
