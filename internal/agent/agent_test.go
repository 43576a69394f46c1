package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/edda-voice/edda/internal/promptctx"
	"github.com/edda-voice/edda/internal/tools"
	"github.com/edda-voice/edda/pkg/memory"
	"github.com/edda-voice/edda/pkg/provider/llm"
	llmmock "github.com/edda-voice/edda/pkg/provider/llm/mock"
	"github.com/edda-voice/edda/pkg/types"
)

type weatherArgs struct {
	City string `json:"city"`
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	tool := tools.MustNewTool("get_weather", "current weather for a city",
		func(ctx context.Context, args weatherArgs) (tools.Result, error) {
			return tools.Success("12°C and clear in " + args.City), nil
		})
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}
	return r
}

func newTestAgent(t *testing.T, p llm.Provider, cfg Config) *Agent {
	t.Helper()
	r := testRegistry(t)
	cfg.LLM = p
	cfg.Registry = r
	cfg.Executor = tools.NewExecutor(r, time.Second)
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not finish; got %v", out)
		}
	}
}

func sentences(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == EventSentence {
			out = append(out, ev.Text)
		}
	}
	return out
}

func TestProcessStream_PlainReply(t *testing.T) {
	p := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{{
			{Text: "Hello there! How"},
			{Text: " are you today?"},
			{FinishReason: "stop"},
		}},
	}
	a := newTestAgent(t, p, Config{})
	conv := NewConversation()

	events := collect(t, a.ProcessStream(t.Context(), conv, "hi"))

	got := sentences(events)
	if len(got) != 2 || got[0] != "Hello there!" || got[1] != "How are you today?" {
		t.Errorf("sentences = %v", got)
	}
	if events[len(events)-1].Kind != EventComplete {
		t.Errorf("last event = %+v, want complete", events[len(events)-1])
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want system+user+assistant", len(msgs))
	}
	if msgs[0].Role != types.RoleSystem {
		t.Errorf("message 0 role = %s", msgs[0].Role)
	}
	if msgs[2].Role != types.RoleAssistant || msgs[2].Content != "Hello there! How are you today?" {
		t.Errorf("assistant message = %+v", msgs[2])
	}
}

func TestProcessStream_ToolRound(t *testing.T) {
	p := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{
			{{
				FinishReason: "tool_calls",
				ToolCalls: []types.ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
				},
			}},
			{
				{Text: "It's 12°C and clear in Oslo."},
				{FinishReason: "stop"},
			},
		},
	}
	a := newTestAgent(t, p, Config{})
	conv := NewConversation()

	events := collect(t, a.ProcessStream(t.Context(), conv, "weather in Oslo?"))

	var sawTool bool
	for _, ev := range events {
		if ev.Kind == EventToolExecuting && ev.ToolName == "get_weather" {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("no ToolExecuting event for get_weather")
	}
	if got := sentences(events); len(got) != 1 || got[0] != "It's 12°C and clear in Oslo." {
		t.Errorf("sentences = %v", got)
	}

	// The second request must replay the tool exchange.
	if len(p.StreamCalls) != 2 {
		t.Fatalf("stream calls = %d, want 2", len(p.StreamCalls))
	}
	msgs := p.StreamCalls[1].Req.Messages
	var sawAssistantCall, sawToolResult bool
	for _, m := range msgs {
		if m.Role == types.RoleAssistant && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "call_1" {
			sawAssistantCall = true
		}
		if m.Role == types.RoleTool && m.ToolCallID == "call_1" &&
			strings.Contains(m.Content, "[Success]: 12°C and clear in Oslo") {
			sawToolResult = true
		}
	}
	if !sawAssistantCall || !sawToolResult {
		t.Errorf("tool exchange not replayed: assistant=%v tool=%v\n%+v",
			sawAssistantCall, sawToolResult, msgs)
	}
}

func TestProcessStream_ReasoningReplayedOnToolMessage(t *testing.T) {
	detail := types.ReasoningDetail{Type: "reasoning.text", Text: "check the weather first"}
	p := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{
			{{
				FinishReason:     "tool_calls",
				ToolCalls:        []types.ToolCall{{ID: "c1", Name: "get_weather", Arguments: `{"city":"Bergen"}`}},
				ReasoningDetails: []types.ReasoningDetail{detail},
			}},
			{{Text: "Rainy."}, {FinishReason: "stop"}},
		},
	}
	a := newTestAgent(t, p, Config{})

	collect(t, a.ProcessStream(t.Context(), NewConversation(), "weather?"))

	msgs := p.StreamCalls[1].Req.Messages
	var found bool
	for _, m := range msgs {
		if m.Role == types.RoleAssistant && len(m.ReasoningDetails) == 1 &&
			m.ReasoningDetails[0].Text == "check the weather first" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasoning details missing from replayed assistant message: %+v", msgs)
	}
}

func TestProcessStream_MemoryPreamble(t *testing.T) {
	s := &fakeSearcher{results: []memory.SearchResult{
		{Entry: memory.Entry{Content: "User: My dog's name?\nAssistant: Loki."}},
	}}
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Loki!"}, {FinishReason: "stop"}},
	}
	a := newTestAgent(t, p, Config{Memory: s})

	collect(t, a.ProcessStream(t.Context(), NewConversation(), "what's my dog called?"))

	user := p.StreamCalls[0].Req.Messages[1]
	if user.Role != types.RoleUser {
		t.Fatalf("message 1 role = %s", user.Role)
	}
	if !strings.HasPrefix(user.Content, "[Relevant memories from past conversations]\n") {
		t.Errorf("missing memory preamble: %q", user.Content)
	}
	if !strings.Contains(user.Content, "\n\n[Current message]\nwhat's my dog called?") {
		t.Errorf("missing current-message marker: %q", user.Content)
	}
}

func TestProcessStream_MemoryFailureDegradesToRawMessage(t *testing.T) {
	s := &fakeSearcher{err: context.DeadlineExceeded}
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hi."}, {FinishReason: "stop"}},
	}
	a := newTestAgent(t, p, Config{Memory: s})

	collect(t, a.ProcessStream(t.Context(), NewConversation(), "hello"))

	if got := p.StreamCalls[0].Req.Messages[1].Content; got != "hello" {
		t.Errorf("user content = %q, want raw message", got)
	}
}

func TestProcessStream_RoundLimit(t *testing.T) {
	// Every round requests another tool call; the loop must stop at the cap.
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{
			FinishReason: "tool_calls",
			ToolCalls:    []types.ToolCall{{ID: "c", Name: "get_weather", Arguments: `{"city":"Oslo"}`}},
		}},
	}
	a := newTestAgent(t, p, Config{MaxToolRounds: 3})

	events := collect(t, a.ProcessStream(t.Context(), NewConversation(), "loop"))

	if len(p.StreamCalls) != 3 {
		t.Errorf("stream calls = %d, want 3", len(p.StreamCalls))
	}
	if events[len(events)-1].Kind != EventComplete {
		t.Errorf("last event = %+v", events[len(events)-1])
	}
}

func TestProcessStream_EmptyStreamEndsTurn(t *testing.T) {
	p := &llmmock.Provider{} // no chunks at all
	a := newTestAgent(t, p, Config{})

	events := collect(t, a.ProcessStream(t.Context(), NewConversation(), "hi"))

	if len(events) != 1 || events[0].Kind != EventComplete {
		t.Errorf("events = %+v, want a lone complete", events)
	}
}

func TestProcessStream_DropsIncompleteToolCalls(t *testing.T) {
	p := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{{
			{Text: "Done."},
			{
				FinishReason: "tool_calls",
				ToolCalls:    []types.ToolCall{{Name: "get_weather"}}, // no id
			},
		}},
	}
	a := newTestAgent(t, p, Config{})
	conv := NewConversation()

	collect(t, a.ProcessStream(t.Context(), conv, "hi"))

	// With every call invalid the turn ends as a plain reply, one stream only.
	if len(p.StreamCalls) != 1 {
		t.Errorf("stream calls = %d, want 1", len(p.StreamCalls))
	}
	msgs := conv.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != types.RoleAssistant || len(last.ToolCalls) != 0 {
		t.Errorf("final message = %+v, want assistant without tool calls", last)
	}
}

func TestProcessStream_SystemPromptFromBuilder(t *testing.T) {
	b := promptctx.NewBuilder()
	if err := b.Register(&promptctx.TimeProvider{Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hi."}, {FinishReason: "stop"}},
	}
	a := newTestAgent(t, p, Config{
		Prompts:        b,
		PromptTemplate: "You are Edda.\n\n{{time_context}}",
	})
	conv := NewConversation()

	collect(t, a.ProcessStream(t.Context(), conv, "hi"))
	first := collectFirstSystem(conv)
	if !strings.HasPrefix(first, "You are Edda.") || !strings.Contains(first, "It is ") {
		t.Errorf("system prompt = %q", first)
	}

	// Second turn must not reinstall the prompt.
	collect(t, a.ProcessStream(t.Context(), conv, "again"))
	count := 0
	for _, m := range conv.Messages() {
		if m.Role == types.RoleSystem {
			count++
		}
	}
	if count != 1 {
		t.Errorf("system messages = %d, want 1", count)
	}
}

func collectFirstSystem(conv *Conversation) string {
	for _, m := range conv.Messages() {
		if m.Role == types.RoleSystem {
			return m.Content
		}
	}
	return ""
}

type fakeSearcher struct {
	results []memory.SearchResult
	err     error
}

func (f *fakeSearcher) SearchWithTimeDecay(_ context.Context, _ string, _ int, _ memory.Filter) ([]memory.SearchResult, error) {
	return f.results, f.err
}

func TestConversation_Exchanges(t *testing.T) {
	conv := NewConversation()
	conv.SetSystemPrompt("sys")
	conv.Append(
		types.ChatMessage{Role: types.RoleUser, Content: "weather?"},
		types.ChatMessage{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c", Name: "get_weather"}}},
		types.ChatMessage{Role: types.RoleTool, ToolCallID: "c", Content: "[Success]: sunny"},
		types.ChatMessage{Role: types.RoleAssistant, Content: "It's sunny."},
		types.ChatMessage{Role: types.RoleUser, Content: "thanks"},
		types.ChatMessage{Role: types.RoleAssistant, Content: ""},
	)

	ex := conv.Exchanges()
	if len(ex) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(ex))
	}
	if ex[0].UserText != "weather?" || ex[0].AssistantText != "It's sunny." {
		t.Errorf("exchange = %+v", ex[0])
	}
}
