package tools

import "context"

// Scope carries per-session capabilities into tool handlers through the
// execution context. Tools like set_volume and end_conversation act on the
// session that invoked them, not on global state, so the session installs a
// Scope before running the agent and handlers pick it up from ctx.
type Scope struct {
	// ConversationID identifies the active conversation, for tools that
	// store or look up per-conversation data.
	ConversationID string

	// SetVolume adjusts the client's playback volume (0-100). Nil when the
	// client has no volume control.
	SetVolume func(level int)

	// EndConversation asks the session to deactivate after the current
	// response finishes playing. Nil outside a voice session.
	EndConversation func()
}

type scopeKey struct{}

// WithScope returns a context carrying the scope.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom extracts the session scope, or nil when none is installed.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
