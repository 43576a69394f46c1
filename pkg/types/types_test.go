package types

import (
	"encoding/json"
	"testing"
)

func TestReasoningDetail_RawRoundTrip(t *testing.T) {
	// Includes a field this struct does not model ("vendor_blob"); the raw
	// bytes must survive re-serialisation untouched.
	in := `{"type":"reasoning.encrypted","id":"rd_1","data":"AAAA","vendor_blob":{"x":1}}`

	var d ReasoningDetail
	if err := json.Unmarshal([]byte(in), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Type != "reasoning.encrypted" || d.ID != "rd_1" || d.Data != "AAAA" {
		t.Errorf("typed fields = %+v", d)
	}

	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("marshal = %s, want verbatim input", out)
	}
}

func TestReasoningDetail_MarshalWithoutRaw(t *testing.T) {
	idx := 2
	d := ReasoningDetail{Type: "reasoning.text", Text: "hm", Index: &idx}
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"reasoning.text","index":2,"text":"hm"}`
	if string(out) != want {
		t.Errorf("marshal = %s, want %s", out, want)
	}
}

func TestChatMessage_ReasoningDetailsReplay(t *testing.T) {
	raw := `{"type":"reasoning.summary","summary":"s","extra":true}`
	var d ReasoningDetail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msg := ChatMessage{Role: RoleAssistant, Content: "ok", ReasoningDetails: []ReasoningDetail{d}}
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded["reasoning_details"]) != "["+raw+"]" {
		t.Errorf("reasoning_details = %s", decoded["reasoning_details"])
	}
}

func TestUsage_Add(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if u.PromptTokens != 11 || u.CompletionTokens != 7 || u.TotalTokens != 18 {
		t.Errorf("u = %+v", u)
	}
}
