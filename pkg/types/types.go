// Package types defines the shared types used across all Edda packages.
//
// These types form the lingua franca between providers, the memory layer, the
// agent, and the session layer. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "encoding/json"

// Role values for ChatMessage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage represents a single message in an LLM conversation history.
type ChatMessage struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message. May be empty when the
	// assistant responds exclusively with tool calls.
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message responds to.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningDetails carries the opaque reasoning trace the model emitted
	// alongside this assistant message. It must be replayed byte-for-byte in
	// every later request for the same conversation; Edda never interprets it.
	ReasoningDetails []ReasoningDetail `json:"reasoning_details,omitempty"`
}

// ToolCall represents a tool/function invocation requested by the LLM.
// Values are immutable once constructed.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string `json:"id"`

	// Name is the tool/function name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments object.
	Arguments string `json:"arguments"`

	// ThoughtSignature is an opaque per-call reasoning token some models attach
	// to tool calls. Echoed back verbatim, never interpreted.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ReasoningDetail is one element of a model's reasoning trace. All fields are
// opaque to Edda; Raw preserves the exact bytes received so replay stays
// byte-identical even for fields this struct does not model.
type ReasoningDetail struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Format    string `json:"format,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`

	// Raw is the verbatim JSON object as received from the provider. When
	// non-empty it takes precedence over the typed fields during serialization.
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits Raw verbatim when present so that replayed reasoning is
// byte-identical to what the model produced.
func (r ReasoningDetail) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain ReasoningDetail
	return json.Marshal(plain(r))
}

// UnmarshalJSON captures both the typed view and the raw bytes.
func (r *ReasoningDetail) UnmarshalJSON(data []byte) error {
	type plain ReasoningDetail
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ReasoningDetail(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Add accumulates the counts of other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
