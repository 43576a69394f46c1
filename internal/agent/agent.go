// Package agent runs the tool-calling conversation loop: it streams LLM
// output as spoken sentences, executes requested tools in parallel, feeds
// results back, and repeats until the model produces a plain reply.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edda-voice/edda/internal/observe"
	"github.com/edda-voice/edda/internal/promptctx"
	"github.com/edda-voice/edda/internal/tools"
	"github.com/edda-voice/edda/pkg/memory"
	"github.com/edda-voice/edda/pkg/provider/llm"
	"github.com/edda-voice/edda/pkg/types"
)

// DefaultMaxToolRounds bounds how many tool rounds one user turn may take.
const DefaultMaxToolRounds = 10

// defaultMemoryLimit is how many recalled memories are injected per turn.
const defaultMemoryLimit = 5

// EventKind discriminates agent stream events.
type EventKind int

const (
	// EventSentence carries one complete sentence of the reply.
	EventSentence EventKind = iota

	// EventToolExecuting announces that a named tool is about to run.
	EventToolExecuting

	// EventComplete is always the last event of a turn.
	EventComplete
)

// Event is one element of the stream returned by [Agent.ProcessStream].
type Event struct {
	Kind EventKind

	// Text is the sentence for EventSentence.
	Text string

	// ToolName is the tool for EventToolExecuting.
	ToolName string
}

// MemorySearcher recalls past exchanges relevant to the current message.
// *memory.Service satisfies it.
type MemorySearcher interface {
	SearchWithTimeDecay(ctx context.Context, query string, limit int, f memory.Filter) ([]memory.SearchResult, error)
}

// Config wires an Agent together. LLM and Executor are required.
type Config struct {
	LLM      llm.Provider
	Executor *tools.Executor

	// Registry supplies tool definitions offered to the model. Nil means no
	// tools.
	Registry *tools.Registry

	// Prompts and PromptTemplate build the system prompt on the first turn of
	// a conversation. When either is unset a minimal static prompt is used.
	Prompts        *promptctx.Builder
	PromptTemplate string

	// Memory, when set, is searched per user message and relevant recalls are
	// prepended to the message.
	Memory      MemorySearcher
	MemoryLimit int

	// MaxToolRounds overrides DefaultMaxToolRounds when positive.
	MaxToolRounds int

	// Temperature is passed through to the LLM. Zero means provider default.
	Temperature float64

	// MaxTokens caps each completion. Zero means provider default.
	MaxTokens int

	// Metrics, when set, receives per-round LLM latency and error samples.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Agent drives conversations. Safe for concurrent use across conversations.
type Agent struct {
	llm         llm.Provider
	executor    *tools.Executor
	registry    *tools.Registry
	prompts     *promptctx.Builder
	template    string
	memory      MemorySearcher
	memoryLimit int
	maxRounds   int
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
	logger      *slog.Logger
}

// New validates cfg and creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("agent: config needs an LLM provider")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("agent: config needs a tool executor")
	}
	a := &Agent{
		llm:         cfg.LLM,
		executor:    cfg.Executor,
		registry:    cfg.Registry,
		prompts:     cfg.Prompts,
		template:    cfg.PromptTemplate,
		memory:      cfg.Memory,
		memoryLimit: cfg.MemoryLimit,
		maxRounds:   cfg.MaxToolRounds,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if a.memoryLimit <= 0 {
		a.memoryLimit = defaultMemoryLimit
	}
	if a.maxRounds <= 0 {
		a.maxRounds = DefaultMaxToolRounds
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// ProcessStream handles one user turn. It appends to conv as the turn
// progresses and returns a channel of events: zero or more Sentence and
// ToolExecuting events followed by exactly one Complete, after which the
// channel is closed. Cancelling ctx ends the turn early; Complete is still
// emitted.
func (a *Agent) ProcessStream(ctx context.Context, conv *Conversation, userMessage string) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer a.emit(ctx, events, Event{Kind: EventComplete})
		a.run(ctx, conv, userMessage, events)
	}()
	return events
}

func (a *Agent) run(ctx context.Context, conv *Conversation, userMessage string, events chan<- Event) {
	if !conv.HasSystemPrompt() {
		conv.SetSystemPrompt(a.buildSystemPrompt(ctx, conv, userMessage))
	}
	conv.Append(types.ChatMessage{
		Role:    types.RoleUser,
		Content: a.withRecalledMemories(ctx, userMessage),
	})

	var defs []types.ToolDefinition
	if a.registry != nil {
		defs = a.registry.Definitions()
	}

	for round := 0; round < a.maxRounds; round++ {
		req := llm.CompletionRequest{
			Messages:    conv.Messages(),
			Tools:       defs,
			Temperature: a.temperature,
			MaxTokens:   a.maxTokens,
		}
		roundStart := time.Now()
		stream, err := a.llm.StreamCompletion(ctx, req)
		if err != nil {
			if a.metrics != nil {
				a.metrics.RecordProviderError(ctx, "llm", "stream_start")
			}
			a.logger.Error("failed to start completion stream", "error", err)
			return
		}

		var (
			splitter sentenceSplitter
			full     strings.Builder
			calls    []types.ToolCall
			details  []types.ReasoningDetail
			received int
			failed   bool
		)
		for chunk := range stream {
			received++
			if chunk.FinishReason == "error" {
				a.logger.Error("completion stream failed", "error", chunk.Text)
				failed = true
				continue
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				for _, sentence := range splitter.push(chunk.Text) {
					a.emit(ctx, events, Event{Kind: EventSentence, Text: sentence})
				}
			}
			if chunk.FinishReason != "" {
				calls = append(calls, chunk.ToolCalls...)
				details = append(details, chunk.ReasoningDetails...)
			}
		}
		if a.metrics != nil {
			a.metrics.LLMDuration.Record(ctx, time.Since(roundStart).Seconds())
			if failed {
				a.metrics.RecordProviderError(ctx, "llm", "stream")
			}
		}
		if failed {
			return
		}
		if received == 0 {
			a.logger.Error("completion stream produced no chunks")
			return
		}
		if rest := splitter.flush(); rest != "" {
			a.emit(ctx, events, Event{Kind: EventSentence, Text: rest})
		}

		calls = validToolCalls(calls, a.logger)
		if len(calls) == 0 {
			conv.Append(types.ChatMessage{
				Role:             types.RoleAssistant,
				Content:          full.String(),
				ReasoningDetails: details,
			})
			return
		}

		conv.Append(types.ChatMessage{
			Role:             types.RoleAssistant,
			Content:          full.String(),
			ToolCalls:        calls,
			ReasoningDetails: details,
		})
		for _, call := range calls {
			a.emit(ctx, events, Event{Kind: EventToolExecuting, ToolName: call.Name})
		}

		for _, exec := range a.executor.Execute(ctx, calls) {
			conv.Append(types.ChatMessage{
				Role:       types.RoleTool,
				Content:    exec.Result.ForLLM(),
				ToolCallID: exec.Call.ID,
			})
		}
	}

	a.logger.Warn("tool round limit reached, ending turn", "max_rounds", a.maxRounds)
}

// buildSystemPrompt assembles the system prompt for a fresh conversation.
func (a *Agent) buildSystemPrompt(ctx context.Context, conv *Conversation, userMessage string) string {
	if a.prompts == nil || a.template == "" {
		return "You are a helpful voice assistant. Keep answers short and conversational."
	}
	return a.prompts.Build(ctx, a.template, promptctx.Request{
		UserMessage:    userMessage,
		ConversationID: conv.ID,
		TurnCount:      conv.UserTurns() + 1,
	})
}

// withRecalledMemories prepends relevant past exchanges to the user message.
// Recall failures degrade to the raw message.
func (a *Agent) withRecalledMemories(ctx context.Context, userMessage string) string {
	if a.memory == nil {
		return userMessage
	}
	results, err := a.memory.SearchWithTimeDecay(ctx, userMessage, a.memoryLimit,
		memory.Filter{Types: []string{"exchange"}})
	if err != nil {
		a.logger.Warn("memory recall failed", "error", err)
		return userMessage
	}
	if len(results) == 0 {
		return userMessage
	}

	var sb strings.Builder
	sb.WriteString("[Relevant memories from past conversations]\n")
	for _, r := range results {
		sb.WriteString(r.Entry.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString("\n[Current message]\n")
	sb.WriteString(userMessage)
	return sb.String()
}

// validToolCalls drops calls that cannot be executed or replayed: both the
// provider-assigned id and the tool name are mandatory. Missing arguments
// default to an empty object so the tool handler still gets valid JSON.
func validToolCalls(calls []types.ToolCall, logger *slog.Logger) []types.ToolCall {
	out := calls[:0]
	for _, c := range calls {
		if c.ID == "" || c.Name == "" {
			logger.Warn("dropping incomplete tool call", "id", c.ID, "name", c.Name)
			continue
		}
		if c.Arguments == "" {
			c.Arguments = "{}"
		}
		out = append(out, c)
	}
	return out
}

// emit delivers an event unless the turn has been cancelled.
func (a *Agent) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
