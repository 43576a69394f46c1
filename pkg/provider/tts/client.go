package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edda-voice/edda/internal/resilience"
)

// Compile-time interface assertion.
var _ Synthesizer = (*Client)(nil)

const (
	healthPath = "/health"
	ttsPath    = "/tts"
	voicePath  = "/voice/"

	defaultHealthTimeout  = 150 * time.Millisecond
	defaultRequestTimeout = 60 * time.Second

	defaultRetryMaxAttempts   = 2
	defaultRetryInitialDelay  = 200 * time.Millisecond
	defaultHealthPollInterval = 30 * time.Second
	defaultExaggeration   = 0.5
	defaultCFGWeight      = 0.5
)

// ErrNoEndpoint is returned when no configured TTS server is healthy and
// accepting requests.
var ErrNoEndpoint = errors.New("tts: no healthy endpoint available")

// errVoiceNotCached marks a /tts 404: the server lost the uploaded voice
// reference (restart, cache eviction) and it must be re-uploaded.
var errVoiceNotCached = errors.New("tts: voice not cached on server")

// Config configures a Client.
type Config struct {
	// Endpoints is the list of TTS server base URLs in priority order. The
	// first healthy endpoint wins; later entries are fallbacks.
	Endpoints []string

	// Voice is the cloning reference used for all synthesis.
	Voice Voice

	// Exaggeration controls expressiveness passed to the server. Default 0.5.
	Exaggeration float64

	// CFGWeight controls classifier-free guidance weight. Default 0.5.
	CFGWeight float64

	// HealthTimeout bounds each /health probe. Default 150ms: a healthy LAN
	// server answers in single-digit milliseconds, so anything slower is
	// treated as down rather than stalling the whole pipeline.
	HealthTimeout time.Duration

	// RequestTimeout bounds each synthesis request. Default 60s.
	RequestTimeout time.Duration

	// BreakerMaxFailures and BreakerResetTimeout configure the per-endpoint
	// circuit breaker. Zero values use the breaker defaults.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// RetryMaxAttempts and RetryInitialDelay configure the per-request retry
	// policy for /tts calls. Defaults: 2 attempts, 200ms.
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration

	// HealthPollInterval is how often [Client.PollHealth] re-probes the
	// priority list for recovered higher-priority endpoints. Default 30s.
	HealthPollInterval time.Duration

	// OnBreakerTransition, when set, is invoked whenever an endpoint's
	// circuit breaker changes state, with the endpoint base URL and the new
	// state name.
	OnBreakerTransition func(endpoint, state string)
}

// healthResponse is the JSON body of GET /health.
type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// ttsRequest is the JSON body of POST /tts.
type ttsRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
}

// endpoint is the per-server state: breaker plus the set of voice hashes this
// server is known to hold.
type endpoint struct {
	url     string
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	uploaded map[string]bool
}

func (e *endpoint) hasVoice(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploaded[hash]
}

func (e *endpoint) markVoice(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uploaded[hash] = true
}

func (e *endpoint) evictVoice(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.uploaded, hash)
}

func (e *endpoint) clearVoices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uploaded = map[string]bool{}
}

// Client is a failover TTS client over one or more Chatterbox-style servers.
//
// Endpoint selection is sticky: once a server is chosen it is used until a
// synthesis attempt fails or its breaker opens, at which point the priority
// list is re-probed. Switching endpoints resets the new endpoint's breaker
// and forgets which voices it holds, since a restarted server has an empty
// voice cache.
//
// Client is safe for concurrent use.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	healthClient *http.Client
	endpoints    []*endpoint

	mu           sync.Mutex
	current      int // index into endpoints; -1 = none selected yet
	lastSelected int // last index that was ever selected; -1 = none
}

// NewClient constructs a Client. At least one endpoint and a non-empty voice
// reference are required.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("tts: at least one endpoint is required")
	}
	if len(cfg.Voice.Data) == 0 || cfg.Voice.Hash == "" {
		return nil, errors.New("tts: voice reference must not be empty")
	}
	if cfg.Exaggeration == 0 {
		cfg.Exaggeration = defaultExaggeration
	}
	if cfg.CFGWeight == 0 {
		cfg.CFGWeight = defaultCFGWeight
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = defaultRetryInitialDelay
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = defaultHealthPollInterval
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		healthClient: &http.Client{Timeout: cfg.HealthTimeout},
		current:      -1,
		lastSelected: -1,
	}
	for _, u := range cfg.Endpoints {
		u = strings.TrimRight(u, "/")
		bcfg := resilience.CircuitBreakerConfig{
			Name:         "tts " + u,
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}
		if cfg.OnBreakerTransition != nil {
			endpointURL := u
			bcfg.OnStateChange = func(from, to resilience.State) {
				cfg.OnBreakerTransition(endpointURL, to.String())
			}
		}
		c.endpoints = append(c.endpoints, &endpoint{
			url:      u,
			breaker:  resilience.NewCircuitBreaker(bcfg),
			uploaded: map[string]bool{},
		})
	}
	return c, nil
}

// Endpoint returns the base URL of the currently selected server, or "" when
// none has been selected yet.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 {
		return ""
	}
	return c.endpoints[c.current].url
}

// Synthesize implements Synthesizer. It returns the complete WAV response for
// the given text, failing over across endpoints as needed.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var lastErr error

	// One selection attempt per endpoint: each failure invalidates the
	// current choice, so the next pass re-probes the priority list.
	for range c.endpoints {
		ep, err := c.activeEndpoint(ctx)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last failure: %w)", err, lastErr)
			}
			return nil, err
		}

		wav, err := c.synthesizeOn(ctx, ep, text)
		if err == nil {
			return wav, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.invalidate(ep)
	}
	return nil, lastErr
}

// synthesizeOn runs one synthesis against a specific endpoint, handling the
// voice upload lifecycle: ensure the reference is present, and when the
// server answers 404 (voice lost), re-upload once and retry.
func (c *Client) synthesizeOn(ctx context.Context, ep *endpoint, text string) ([]byte, error) {
	if err := c.ensureVoice(ctx, ep); err != nil {
		return nil, err
	}

	wav, err := c.postTTS(ctx, ep, text)
	if errors.Is(err, errVoiceNotCached) {
		slog.Info("tts: server lost voice reference, re-uploading",
			"endpoint", ep.url, "voice", c.cfg.Voice.Name)
		ep.evictVoice(c.cfg.Voice.Hash)
		if upErr := c.ensureVoice(ctx, ep); upErr != nil {
			return nil, upErr
		}
		wav, err = c.postTTS(ctx, ep, text)
	}
	return wav, err
}

// postTTS issues POST /tts through the endpoint's breaker, with one retry on
// transient failures.
func (c *Client) postTTS(ctx context.Context, ep *endpoint, text string) ([]byte, error) {
	var wav []byte

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  c.cfg.RetryMaxAttempts,
		InitialDelay: c.cfg.RetryInitialDelay,
	}
	err := resilience.Retry(ctx, retryCfg, func() error {
		return ep.breaker.Execute(func() error {
			var err error
			wav, err = c.doTTSRequest(ctx, ep, text)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return wav, nil
}

// doTTSRequest performs a single POST /tts HTTP round trip.
func (c *Client) doTTSRequest(ctx context.Context, ep *endpoint, text string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{
		Text:         text,
		VoiceID:      c.cfg.Voice.Hash,
		Exaggeration: c.cfg.Exaggeration,
		CFGWeight:    c.cfg.CFGWeight,
	})
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("tts: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url+ttsPath, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("tts: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: POST %s: %w", ttsPath, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, resilience.Permanent(errVoiceNotCached)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("tts: POST %s returned status %d", ttsPath, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read WAV response: %w", err)
	}

	slog.Debug("tts: synthesized",
		"endpoint", ep.url,
		"chars", len(text),
		"bytes", len(wav),
		"round_trip", time.Since(start),
		"generation_ms", resp.Header.Get("X-Generation-Time-Ms"),
		"realtime_factor", resp.Header.Get("X-Realtime-Factor"))
	return wav, nil
}

// ensureVoice makes sure the server holds the configured voice reference.
// The check result is cached per endpoint so steady-state synthesis costs a
// single HTTP call.
func (c *Client) ensureVoice(ctx context.Context, ep *endpoint) error {
	hash := c.cfg.Voice.Hash
	if ep.hasVoice(hash) {
		return nil
	}

	exists, err := c.voiceExists(ctx, ep, hash)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.uploadVoice(ctx, ep); err != nil {
			return err
		}
	}
	ep.markVoice(hash)
	return nil
}

// voiceExists checks GET /voice/{hash}: 200 means present, 404 means absent.
func (c *Client) voiceExists(ctx context.Context, ep *endpoint, hash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.url+voicePath+hash, nil)
	if err != nil {
		return false, fmt.Errorf("tts: create voice check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("tts: GET %s%s: %w", voicePath, hash, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("tts: GET %s%s returned status %d", voicePath, hash, resp.StatusCode)
	}
}

// uploadVoice sends the reference audio via POST /voice/{hash} as a multipart
// file upload.
func (c *Client) uploadVoice(ctx context.Context, ep *endpoint) error {
	v := c.cfg.Voice

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", v.Name+".wav")
	if err != nil {
		return fmt.Errorf("tts: create upload form: %w", err)
	}
	if _, err := fw.Write(v.Data); err != nil {
		return fmt.Errorf("tts: write upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("tts: close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url+voicePath+v.Hash, &body)
	if err != nil {
		return fmt.Errorf("tts: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts: POST %s%s: %w", voicePath, v.Hash, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("tts: voice upload returned status %d", resp.StatusCode)
	}

	slog.Info("tts: uploaded voice reference",
		"endpoint", ep.url, "voice", v.Name, "hash", v.Hash, "bytes", len(v.Data))
	return nil
}

// activeEndpoint returns the currently selected endpoint, probing the
// priority list when none is selected.
func (c *Client) activeEndpoint(ctx context.Context) (*endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current >= 0 {
		return c.endpoints[c.current], nil
	}

	for i, ep := range c.endpoints {
		if ep.breaker.State() == resilience.StateOpen {
			continue
		}
		if !c.probeHealth(ctx, ep) {
			continue
		}
		if i != c.lastSelected {
			// Endpoint change: the server may have restarted since we last
			// used it, so its breaker history and voice cache no longer
			// apply. Re-probing the same endpoint after a failed call keeps
			// both, so consecutive failures still trip the breaker.
			ep.breaker.Reset()
			ep.clearVoices()
		}
		c.current = i
		c.lastSelected = i
		slog.Info("tts: selected endpoint", "endpoint", ep.url, "priority", i)
		return ep, nil
	}
	return nil, ErrNoEndpoint
}

// PollHealth periodically re-probes the priority list and drops the current
// selection when a higher-priority server has recovered, so the next
// synthesis call fails back up the list. Blocks until ctx is cancelled; run
// it in its own goroutine, once per process.
func (c *Client) PollHealth(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reselectIfRecovered(ctx)
		}
	}
}

// reselectIfRecovered clears the selection when an endpoint ahead of the
// current one answers its health probe. Endpoints at or below the current
// priority are left to the pre-call probe path.
func (c *Client) reselectIfRecovered(ctx context.Context) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current <= 0 {
		return
	}

	for i := 0; i < current; i++ {
		if !c.probeHealth(ctx, c.endpoints[i]) {
			continue
		}
		c.mu.Lock()
		if c.current == current {
			slog.Info("tts: higher-priority endpoint recovered, will re-probe",
				"endpoint", c.endpoints[i].url, "priority", i)
			c.current = -1
		}
		c.mu.Unlock()
		return
	}
}

// invalidate drops the current selection if it still points at ep, forcing a
// re-probe on the next call.
func (c *Client) invalidate(ep *endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current >= 0 && c.endpoints[c.current] == ep {
		slog.Warn("tts: endpoint failed, will re-probe", "endpoint", ep.url)
		c.current = -1
	}
}

// probeHealth checks GET /health within the configured probe timeout. The
// endpoint counts as healthy only when the model is loaded.
func (c *Client) probeHealth(ctx context.Context, ep *endpoint) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, ep.url+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.ModelLoaded
}
