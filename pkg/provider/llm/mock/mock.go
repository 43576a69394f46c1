// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the agent sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamScript: [][]llm.Chunk{{
//	        {Text: "Hello"},
//	        {Text: " there."},
//	        {FinishReason: "stop"},
//	    }},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/edda-voice/edda/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamScript is a sequence of chunk streams, consumed one per
	// StreamCompletion call. This drives multi-round agent tests where each
	// tool round triggers a fresh stream. When exhausted (or empty),
	// StreamChunks is used instead.
	StreamScript [][]llm.Chunk
	scriptIdx    int

	// StreamChunks is the fallback chunk sequence emitted by
	// StreamCompletion when StreamScript does not cover the call.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of starting a channel.
	StreamErr error

	// CompleteResponses is a queue of responses returned by Complete, one per
	// call. When exhausted (or empty), CompleteResponse is used instead.
	CompleteResponses []*llm.CompletionResponse
	completeIdx       int

	// CompleteResponse is the fallback returned by Complete. May be nil
	// (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// StreamCompletion records the call and returns a channel emitting the next
// scripted chunk stream. If StreamErr is set, it returns nil, StreamErr
// without opening a channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var chunks []llm.Chunk
	if p.scriptIdx < len(p.StreamScript) {
		chunks = p.StreamScript[p.scriptIdx]
		p.scriptIdx++
	} else {
		chunks = p.StreamChunks
	}
	chunks = append([]llm.Chunk(nil), chunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next queued response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.completeIdx < len(p.CompleteResponses) {
		resp := p.CompleteResponses[p.completeIdx]
		p.completeIdx++
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// Reset clears all recorded calls and rewinds the scripts. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.scriptIdx = 0
	p.completeIdx = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
