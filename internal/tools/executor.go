package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edda-voice/edda/internal/observe"
	"github.com/edda-voice/edda/pkg/types"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 30 * time.Second

// Execution pairs a requested tool call with its outcome. The agent turns
// each Execution into one "tool" role message.
type Execution struct {
	Call   types.ToolCall
	Result Result
}

// Executor runs tool calls from the LLM against a Registry.
type Executor struct {
	registry *Registry
	timeout  time.Duration

	// Metrics, when set, receives one tool-call sample per invocation.
	Metrics *observe.Metrics
}

// NewExecutor creates an Executor. A non-positive timeout uses
// DefaultCallTimeout.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Executor{registry: registry, timeout: timeout}
}

// Execute runs all calls in parallel and returns one Execution per call, in
// the same order as the input regardless of completion order. Failures never
// abort the batch: an unknown tool, a timeout, or a handler error each
// become an error Result for that call alone.
func (e *Executor) Execute(ctx context.Context, calls []types.ToolCall) []Execution {
	results := make([]Execution, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		results[i].Call = call
		g.Go(func() error {
			results[i].Result = e.executeOne(ctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call types.ToolCall) Result {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return Errorf("unknown tool %q", call.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		r, err := runProtected(callCtx, tool, call.Arguments)
		done <- outcome{result: r, err: err}
	}()

	var result Result
	// The deadline is enforced here, not trusted to the handler: a handler
	// that ignores its context still cannot stall the batch.
	select {
	case out := <-done:
		switch {
		case out.err != nil && errors.Is(out.err, context.DeadlineExceeded):
			result = Result{Status: StatusTimeout, Content: "tool did not finish in time"}
		case out.err != nil:
			result = Errorf("%v", out.err)
		default:
			result = out.result
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result = Result{Status: StatusTimeout, Content: "tool did not finish in time"}
		} else {
			result = Errorf("cancelled: %v", callCtx.Err())
		}
	}
	elapsed := time.Since(start)

	if e.Metrics != nil {
		e.Metrics.RecordToolCall(ctx, call.Name, string(result.Status), elapsed)
	}
	slog.Debug("tool executed",
		"tool", call.Name, "status", result.Status, "duration", elapsed)
	return result
}

// runProtected invokes the handler, converting a panic into an error so one
// misbehaving tool cannot take down the session.
func runProtected(ctx context.Context, tool Tool, args string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", tool.Definition.Name, "panic", r)
			result = Errorf("tool %q failed internally", tool.Definition.Name)
			err = nil
		}
	}()
	return tool.Handler(ctx, args)
}
