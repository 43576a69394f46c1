// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps an OpenAI-compatible API (OpenAI proper, OpenRouter, or
// a local server) and exposes a uniform interface for the agent to perform
// completions without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/edda-voice/edda/pkg/types"
)

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, including any system
	// message. Assistant messages must carry their original ToolCalls and
	// ReasoningDetails so reasoning models can resume their trace.
	Messages []types.ChatMessage

	// Tools is the set of function/tool definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int
}

// Chunk is a fragment emitted by a streaming completion. Text arrives
// incrementally; ToolCalls and ReasoningDetails are accumulated by the
// provider and delivered complete on the final chunk (the one carrying a
// non-empty FinishReason).
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or "error" when the stream failed mid-flight (Text then holds the error
	// message).
	FinishReason string

	// ToolCalls contains the complete tool invocations the model requested.
	// Only set on the final chunk.
	ToolCalls []types.ToolCall

	// ReasoningDetails is the model's complete reasoning trace for this turn.
	// Only set on the final chunk.
	ReasoningDetails []types.ReasoningDetail

	// Usage is token accounting for the whole request, when the backend
	// reports it. Only set on the final chunk.
	Usage *types.Usage
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []types.ToolCall

	// ReasoningDetails is the reasoning trace attached to the reply.
	ReasoningDetails []types.ReasoningDetail

	// Usage contains token accounting for this request/response pair.
	Usage types.Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. Used
	// for short auxiliary calls (classification, summarisation) that do not
	// need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
