package promptctx

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edda-voice/edda/pkg/memory"
)

type staticProvider struct {
	key      string
	priority int
	text     string
	err      error
	calls    atomic.Int32
	delay    time.Duration
}

func (p *staticProvider) Key() string   { return p.key }
func (p *staticProvider) Priority() int { return p.priority }

func (p *staticProvider) GetContext(ctx context.Context, _ Request) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.text, p.err
}

func TestBuild_FillsPlaceholders(t *testing.T) {
	b := NewBuilder()
	err := b.Register(
		&staticProvider{key: "weather", priority: 20, text: "It is raining."},
		&staticProvider{key: "mood", priority: 10, text: "You are cheerful."},
	)
	if err != nil {
		t.Fatal(err)
	}

	got := b.Build(t.Context(), "{{mood}}\n\n{{weather}}", Request{})
	want := "You are cheerful.\n\nIt is raining."
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestBuild_OnlyInvokesReferencedProviders(t *testing.T) {
	used := &staticProvider{key: "used", text: "yes"}
	unused := &staticProvider{key: "unused", text: "no"}
	b := NewBuilder()
	if err := b.Register(used, unused); err != nil {
		t.Fatal(err)
	}

	b.Build(t.Context(), "{{used}}", Request{})
	if used.calls.Load() != 1 {
		t.Errorf("used provider called %d times", used.calls.Load())
	}
	if unused.calls.Load() != 0 {
		t.Errorf("unused provider called %d times", unused.calls.Load())
	}
}

func TestBuild_BlanksFailedAndStripsUnknown(t *testing.T) {
	b := NewBuilder()
	err := b.Register(
		&staticProvider{key: "good", text: "kept"},
		&staticProvider{key: "bad", err: errors.New("backend down")},
	)
	if err != nil {
		t.Fatal(err)
	}

	got := b.Build(t.Context(), "{{good}}\n\n{{bad}}\n\n{{never_registered}}\n\ntail", Request{})
	if got != "kept\n\ntail" {
		t.Errorf("Build() = %q", got)
	}
}

func TestBuild_CollapsesBlankRuns(t *testing.T) {
	b := NewBuilder()
	if err := b.Register(&staticProvider{key: "a", text: "x"}); err != nil {
		t.Fatal(err)
	}
	got := b.Build(t.Context(), "{{a}}\n\n\n\n{{missing}}\n\n\n\nend", Request{})
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank run survived: %q", got)
	}
}

func TestBuild_ProvidersRunConcurrently(t *testing.T) {
	b := NewBuilder()
	err := b.Register(
		&staticProvider{key: "a", text: "a", delay: 60 * time.Millisecond},
		&staticProvider{key: "b", text: "b", delay: 60 * time.Millisecond},
	)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	b.Build(t.Context(), "{{a}} {{b}}", Request{})
	if elapsed := time.Since(start); elapsed > 110*time.Millisecond {
		t.Errorf("two 60ms providers took %v, expected concurrent fetch", elapsed)
	}
}

func TestRegister_RejectsDuplicateKeys(t *testing.T) {
	b := NewBuilder()
	if err := b.Register(&staticProvider{key: "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Register(&staticProvider{key: "dup"}); err == nil {
		t.Fatal("duplicate key should be rejected")
	}
}

func TestTimeProvider(t *testing.T) {
	p := &TimeProvider{Location: time.UTC}
	now := time.Date(2026, time.August, 24, 14, 30, 0, 0, time.UTC)
	got, err := p.GetContext(t.Context(), Request{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Monday, August 24, 2026") {
		t.Errorf("missing date in %q", got)
	}
	if !strings.Contains(got, "afternoon") {
		t.Errorf("missing time-of-day bucket in %q", got)
	}
}

func TestTimeOfDayBuckets(t *testing.T) {
	cases := map[int]string{4: "night", 5: "morning", 11: "morning", 12: "afternoon", 17: "evening", 22: "night"}
	for hour, want := range cases {
		if got := timeOfDay(hour); got != want {
			t.Errorf("timeOfDay(%d) = %q, want %q", hour, got, want)
		}
	}
}

func TestConversationProvider_SuppressedUntilThirdTurn(t *testing.T) {
	p := &ConversationProvider{}
	got, err := p.GetContext(t.Context(), Request{TurnCount: 2})
	if err != nil || got != "" {
		t.Errorf("turn 2: got %q, %v, want empty", got, err)
	}
	got, err = p.GetContext(t.Context(), Request{TurnCount: 3})
	if err != nil || !strings.Contains(got, "3 turns") {
		t.Errorf("turn 3: got %q, %v", got, err)
	}
}

type fakeSearcher struct {
	results []memory.SearchResult
	err     error
	gotQ    string
	gotF    memory.Filter
}

func (f *fakeSearcher) SearchWithTimeDecay(_ context.Context, query string, _ int, filter memory.Filter) ([]memory.SearchResult, error) {
	f.gotQ, f.gotF = query, filter
	return f.results, f.err
}

func TestMemoryProvider_RendersBullets(t *testing.T) {
	s := &fakeSearcher{results: []memory.SearchResult{
		{Entry: memory.Entry{Content: "User: Any allergies?\nAssistant: You mentioned peanuts."}},
		{Entry: memory.Entry{Content: "User: Favourite tea?\nAssistant: Earl Grey."}},
	}}
	p := &MemoryProvider{Searcher: s}

	got, err := p.GetContext(t.Context(), Request{UserMessage: "what should I avoid eating?"})
	if err != nil {
		t.Fatal(err)
	}
	if s.gotQ != "what should I avoid eating?" {
		t.Errorf("query = %q", s.gotQ)
	}
	if len(s.gotF.Types) != 1 || s.gotF.Types[0] != "exchange" {
		t.Errorf("filter types = %v", s.gotF.Types)
	}
	if !strings.Contains(got, "- User: Any allergies? Assistant: You mentioned peanuts.") {
		t.Errorf("newlines inside a memory should flatten: %q", got)
	}
	if strings.Count(got, "- ") != 2 {
		t.Errorf("want two bullets: %q", got)
	}
}

func TestMemoryProvider_EmptyCases(t *testing.T) {
	p := &MemoryProvider{Searcher: &fakeSearcher{}}
	if got, err := p.GetContext(t.Context(), Request{UserMessage: "  "}); err != nil || got != "" {
		t.Errorf("blank message: %q, %v", got, err)
	}
	if got, err := p.GetContext(t.Context(), Request{UserMessage: "hi"}); err != nil || got != "" {
		t.Errorf("no results: %q, %v", got, err)
	}
	p = &MemoryProvider{Searcher: &fakeSearcher{err: errors.New("db gone")}}
	if _, err := p.GetContext(t.Context(), Request{UserMessage: "hi"}); err == nil {
		t.Error("search failure should surface as an error")
	}
}
