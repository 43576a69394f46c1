package agent

import (
	"reflect"
	"testing"
)

func TestSentenceSplitter_IncrementalExtraction(t *testing.T) {
	var s sentenceSplitter

	if got := s.push("Hello the"); got != nil {
		t.Errorf("no terminator yet, got %v", got)
	}
	if got := s.push("re! How are"); !reflect.DeepEqual(got, []string{"Hello there!"}) {
		t.Errorf("push = %v", got)
	}
	if got := s.push(" you? I'm fine"); !reflect.DeepEqual(got, []string{"How are you?"}) {
		t.Errorf("push = %v", got)
	}
	if got := s.flush(); got != "I'm fine" {
		t.Errorf("flush = %q", got)
	}
}

func TestSentenceSplitter_MultipleSentencesInOneChunk(t *testing.T) {
	var s sentenceSplitter
	got := s.push("One. Two! Three? tail")
	want := []string{"One.", "Two!", "Three?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("push = %v, want %v", got, want)
	}
	if got := s.flush(); got != "tail" {
		t.Errorf("flush = %q", got)
	}
}

func TestSentenceSplitter_EllipsisStaysWhole(t *testing.T) {
	var s sentenceSplitter
	got := s.push("Well... let me think. Done.")
	want := []string{"Well...", "let me think.", "Done."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("push = %v, want %v", got, want)
	}
}

func TestSentenceSplitter_NewlineCountsAsBoundary(t *testing.T) {
	var s sentenceSplitter
	got := s.push("First line.\nSecond line.\n")
	want := []string{"First line.", "Second line."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("push = %v, want %v", got, want)
	}
	if got := s.flush(); got != "" {
		t.Errorf("flush = %q, want empty", got)
	}
}

func TestSentenceSplitter_FlushEmptyBuffer(t *testing.T) {
	var s sentenceSplitter
	if got := s.flush(); got != "" {
		t.Errorf("flush = %q", got)
	}
}
