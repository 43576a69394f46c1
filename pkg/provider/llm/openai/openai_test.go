package openai

import (
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/edda-voice/edda/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New with empty apiKey should fail")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New with empty model should fail")
	}
	if _, err := New("sk-test", "gpt-4o"); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestToolCallAccumulator_MergesFragmentsByIndex(t *testing.T) {
	a := newToolCallAccumulator()

	// Two interleaved calls, arguments split across fragments.
	a.add(oai.ChatCompletionChunkChoiceDeltaToolCall{
		Index: 0, ID: "call_a",
		Function: oai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "get_weather", Arguments: `{"cit`},
	})
	a.add(oai.ChatCompletionChunkChoiceDeltaToolCall{
		Index: 1, ID: "call_b",
		Function: oai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "set_volume", Arguments: `{"level"`},
	})
	a.add(oai.ChatCompletionChunkChoiceDeltaToolCall{
		Index:    0,
		Function: oai.ChatCompletionChunkChoiceDeltaToolCallFunction{Arguments: `y":"Oslo"}`},
	})
	a.add(oai.ChatCompletionChunkChoiceDeltaToolCall{
		Index:    1,
		Function: oai.ChatCompletionChunkChoiceDeltaToolCallFunction{Arguments: `:40}`},
	})

	got := a.result()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "call_a" || got[0].Name != "get_weather" || got[0].Arguments != `{"city":"Oslo"}` {
		t.Errorf("call 0 = %+v", got[0])
	}
	if got[1].ID != "call_b" || got[1].Name != "set_volume" || got[1].Arguments != `{"level":40}` {
		t.Errorf("call 1 = %+v", got[1])
	}
}

func TestToolCallAccumulator_Empty(t *testing.T) {
	if got := newToolCallAccumulator().result(); got != nil {
		t.Errorf("result = %v, want nil", got)
	}
}

func TestReasoningAccumulator_MergesIndexedFragments(t *testing.T) {
	a := newReasoningAccumulator()
	a.add([]byte(`[{"type":"reasoning.text","index":0,"text":"Let me "}]`))
	a.add([]byte(`[{"type":"reasoning.text","index":0,"text":"think."}]`))
	a.add([]byte(`[{"index":0,"signature":"sig123"}]`))

	got := a.result()
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	d := got[0]
	if d.Type != "reasoning.text" {
		t.Errorf("Type = %q", d.Type)
	}
	if d.Text != "Let me think." {
		t.Errorf("Text = %q, want concatenated fragments", d.Text)
	}
	if d.Signature != "sig123" {
		t.Errorf("Signature = %q", d.Signature)
	}
}

func TestReasoningAccumulator_OrdersByIndex(t *testing.T) {
	a := newReasoningAccumulator()
	a.add([]byte(`[{"type":"reasoning.encrypted","index":1,"data":"xyz"}]`))
	a.add([]byte(`[{"type":"reasoning.text","index":0,"text":"first"}]`))

	got := a.result()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "first" || got[1].Data != "xyz" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestReasoningAccumulator_IgnoresGarbage(t *testing.T) {
	a := newReasoningAccumulator()
	a.add([]byte(`not json`))
	if got := a.result(); got != nil {
		t.Errorf("result = %v, want nil", got)
	}
}

func TestConvertMessage_RejectsUnknownRole(t *testing.T) {
	if _, err := convertMessage(types.ChatMessage{Role: "narrator"}); err == nil {
		t.Fatal("unknown role should fail")
	}
}

func TestConvertMessage_ToolAndAssistant(t *testing.T) {
	asst, err := convertMessage(types.ChatMessage{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "search_web", Arguments: `{"query":"news"}`, ThoughtSignature: "ts"},
		},
		ReasoningDetails: []types.ReasoningDetail{{Type: "reasoning.text", Text: "hm"}},
	})
	if err != nil {
		t.Fatalf("assistant: %v", err)
	}
	if asst.OfAssistant == nil || len(asst.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("assistant param missing tool call")
	}

	tool, err := convertMessage(types.ChatMessage{
		Role: types.RoleTool, Content: "42", ToolCallID: "call_1",
	})
	if err != nil {
		t.Fatalf("tool: %v", err)
	}
	if tool.OfTool == nil {
		t.Fatal("tool param not set")
	}
}
