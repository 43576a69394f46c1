package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer simulates a Chatterbox-style TTS server: /health, /tts, and the
// /voice/{hash} existence/upload endpoints backed by an in-memory voice set.
type fakeServer struct {
	mu          sync.Mutex
	modelLoaded bool
	voices      map[string]bool
	ttsCalls    int
	uploadCalls int
	ttsStatus   int // 0 = normal behaviour

	srv *httptest.Server
}

func newFakeServer(t *testing.T, modelLoaded bool) *fakeServer {
	t.Helper()
	f := &fakeServer{modelLoaded: modelLoaded, voices: map[string]bool{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/health":
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok", "model_loaded": f.modelLoaded,
		})

	case r.URL.Path == "/tts":
		f.ttsCalls++
		if f.ttsStatus != 0 {
			w.WriteHeader(f.ttsStatus)
			return
		}
		var req ttsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !f.voices[req.VoiceID] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"voice not found in cache"}`))
			return
		}
		w.Header().Set("X-Generation-Time-Ms", "120")
		w.Header().Set("X-Realtime-Factor", "0.4")
		w.Write([]byte("RIFF-fake-wav-" + req.Text))

	case strings.HasPrefix(r.URL.Path, "/voice/"):
		hash := strings.TrimPrefix(r.URL.Path, "/voice/")
		if r.Method == http.MethodGet {
			if f.voices[hash] {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
			return
		}
		f.uploadCalls++
		f.voices[hash] = true
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeServer) forgetVoices() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = map[string]bool{}
}

func (f *fakeServer) setLoaded(loaded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modelLoaded = loaded
}

func (f *fakeServer) counts() (tts, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttsCalls, f.uploadCalls
}

func testVoice() Voice {
	return NewVoice("nyxie", []byte("fake-reference-wav-data"))
}

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoints:           endpoints,
		Voice:               testVoice(),
		BreakerResetTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{Voice: testVoice()}); err == nil {
		t.Error("no endpoints should fail")
	}
	if _, err := NewClient(Config{Endpoints: []string{"http://x"}}); err == nil {
		t.Error("empty voice should fail")
	}
}

func TestVoiceHash_Is16HexChars(t *testing.T) {
	v := testVoice()
	if len(v.Hash) != 16 {
		t.Fatalf("hash length = %d, want 16", len(v.Hash))
	}
	for _, c := range v.Hash {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("hash %q contains non-hex rune %q", v.Hash, c)
		}
	}
	// Same data must yield the same hash, different data a different one.
	if NewVoice("other", []byte("fake-reference-wav-data")).Hash != v.Hash {
		t.Error("hash should depend only on data")
	}
	if NewVoice("nyxie", []byte("different")).Hash == v.Hash {
		t.Error("different data should yield different hash")
	}
}

func TestSynthesize_UploadsVoiceOnceThenCaches(t *testing.T) {
	f := newFakeServer(t, true)
	c := newTestClient(t, f.srv.URL)

	for i := 0; i < 3; i++ {
		wav, err := c.Synthesize(t.Context(), "Hello there.")
		if err != nil {
			t.Fatalf("Synthesize %d: %v", i, err)
		}
		if !strings.HasPrefix(string(wav), "RIFF-fake-wav-") {
			t.Fatalf("unexpected body %q", wav)
		}
	}

	ttsCalls, uploads := f.counts()
	if ttsCalls != 3 {
		t.Errorf("tts calls = %d, want 3", ttsCalls)
	}
	if uploads != 1 {
		t.Errorf("uploads = %d, want 1 (cached afterwards)", uploads)
	}
}

func TestSynthesize_ReuploadsAfterServerForgetsVoice(t *testing.T) {
	f := newFakeServer(t, true)
	c := newTestClient(t, f.srv.URL)

	if _, err := c.Synthesize(t.Context(), "First."); err != nil {
		t.Fatalf("first: %v", err)
	}

	// Server restart: voice cache gone, client still thinks it is uploaded.
	f.forgetVoices()

	if _, err := c.Synthesize(t.Context(), "Second."); err != nil {
		t.Fatalf("second (after restart): %v", err)
	}
	_, uploads := f.counts()
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2 (re-upload after 404)", uploads)
	}
}

func TestSynthesize_PrefersFirstHealthyEndpoint(t *testing.T) {
	down := newFakeServer(t, false) // model not loaded: unhealthy
	up := newFakeServer(t, true)
	c := newTestClient(t, down.srv.URL, up.srv.URL)

	if _, err := c.Synthesize(t.Context(), "Hi."); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := c.Endpoint(); got != up.srv.URL {
		t.Errorf("endpoint = %q, want fallback %q", got, up.srv.URL)
	}
	downCalls, _ := down.counts()
	if downCalls != 0 {
		t.Errorf("unhealthy endpoint received %d tts calls", downCalls)
	}
}

func TestSynthesize_FailsOverMidSession(t *testing.T) {
	primary := newFakeServer(t, true)
	fallback := newFakeServer(t, true)
	c := newTestClient(t, primary.srv.URL, fallback.srv.URL)

	if _, err := c.Synthesize(t.Context(), "On primary."); err != nil {
		t.Fatalf("primary: %v", err)
	}

	// Primary starts erroring and reports unhealthy.
	primary.mu.Lock()
	primary.ttsStatus = http.StatusInternalServerError
	primary.mu.Unlock()
	primary.setLoaded(false)

	if _, err := c.Synthesize(t.Context(), "On fallback."); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if got := c.Endpoint(); got != fallback.srv.URL {
		t.Errorf("endpoint = %q, want %q", got, fallback.srv.URL)
	}
	// The fallback has its own voice cache: the reference must be uploaded
	// there too.
	_, uploads := fallback.counts()
	if uploads != 1 {
		t.Errorf("fallback uploads = %d, want 1", uploads)
	}
}

func TestSynthesize_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := newFakeServer(t, true)
	f.mu.Lock()
	f.ttsStatus = http.StatusInternalServerError
	f.mu.Unlock()

	var transitions []string
	c, err := NewClient(Config{
		Endpoints:           []string{f.srv.URL},
		Voice:               testVoice(),
		BreakerMaxFailures:  3,
		BreakerResetTimeout: time.Hour,
		RetryMaxAttempts:    1,
		OnBreakerTransition: func(endpoint, state string) {
			transitions = append(transitions, state)
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	// Three consecutive failures, each one /tts round trip. Re-probing the
	// same endpoint between calls must not erase the failure count.
	for i := 0; i < 3; i++ {
		if _, err := c.Synthesize(t.Context(), "Still there?"); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	ttsCalls, _ := f.counts()
	if ttsCalls != 3 {
		t.Fatalf("tts calls = %d, want 3", ttsCalls)
	}

	// Breaker is open: the next call must be rejected without any network
	// traffic to the endpoint.
	if _, err := c.Synthesize(t.Context(), "Hello?"); err == nil {
		t.Fatal("expected rejection with open breaker")
	}
	if after, _ := f.counts(); after != 3 {
		t.Errorf("tts calls after breaker opened = %d, want 3", after)
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != "open" {
		t.Errorf("breaker transitions = %v, want trailing open", transitions)
	}
}

func TestPollHealth_FailsBackToRecoveredPrimary(t *testing.T) {
	primary := newFakeServer(t, false)
	fallback := newFakeServer(t, true)
	c, err := NewClient(Config{
		Endpoints:           []string{primary.srv.URL, fallback.srv.URL},
		Voice:               testVoice(),
		BreakerResetTimeout: time.Hour,
		HealthPollInterval:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.Synthesize(t.Context(), "Hi."); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := c.Endpoint(); got != fallback.srv.URL {
		t.Fatalf("endpoint = %q, want fallback while primary is down", got)
	}

	primary.setLoaded(true)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go c.PollHealth(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for c.Endpoint() != "" {
		if time.Now().After(deadline) {
			t.Fatal("poller never dropped the fallback selection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := c.Synthesize(t.Context(), "Back home."); err != nil {
		t.Fatalf("Synthesize after recovery: %v", err)
	}
	if got := c.Endpoint(); got != primary.srv.URL {
		t.Errorf("endpoint = %q, want recovered primary %q", got, primary.srv.URL)
	}
}

func TestSynthesize_NoHealthyEndpoint(t *testing.T) {
	down := newFakeServer(t, false)
	c := newTestClient(t, down.srv.URL)

	if _, err := c.Synthesize(t.Context(), "Anyone?"); err == nil {
		t.Fatal("expected error with no healthy endpoint")
	}
}
