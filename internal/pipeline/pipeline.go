// Package pipeline turns reply text into ordered audio_sentence messages on
// a client sink. It has two modes: batch, for short canned replies whose full
// text is known up front, and streaming, for agent turns where sentences
// arrive one at a time and the client hears a looped "thinking" sound until
// the first real audio lands.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edda-voice/edda/internal/observe"
	"github.com/edda-voice/edda/internal/wire"
	"github.com/edda-voice/edda/pkg/audio"
	"github.com/edda-voice/edda/pkg/provider/tts"
)

// LoadingCacheKey is the content-address of the loading sound on the client.
// Bump the suffix when the shipped audio changes.
const LoadingCacheKey = "loading_v2"

const (
	// DefaultAvgMsPerChar estimates TTS generation time per character, used
	// to pack the current sentence's playback into the next one's synthesis.
	DefaultAvgMsPerChar = 35.0

	// DefaultMinTempo and DefaultMaxTempo bound tempo packing so speech stays
	// natural.
	DefaultMinTempo = 0.85
	DefaultMaxTempo = 1.25

	// DefaultLeadInMs of silence is prepended to every sentence so the first
	// syllable is not clipped by client playback ramp-up.
	DefaultLeadInMs = 150

	// streamChunkBytes is the PCM chunk size for the raw-stream fallback.
	streamChunkBytes = 32 * 1024
)

// TempoAdjuster changes the playback tempo of a WAV without changing pitch.
// *audio.TempoFilter satisfies it.
type TempoAdjuster interface {
	Adjust(ctx context.Context, wav []byte, factor float64) []byte
}

// Config wires a Pipeline together. TTS is required.
type Config struct {
	TTS tts.Synthesizer

	// Tempo enables tempo packing in batch mode. Nil disables it.
	Tempo TempoAdjuster

	// LoadingWAV is the sound looped while an agent turn is thinking. Nil
	// disables the loading loop. Must be a valid mono 16-bit WAV.
	LoadingWAV []byte

	AvgMsPerChar float64
	MinTempo     float64
	MaxTempo     float64
	LeadInMs     int

	// OnFirstAudio is called once per streaming turn with the measured
	// time-to-first-audio.
	OnFirstAudio func(ttfa time.Duration)

	// Metrics, when set, receives per-sentence synthesis latency samples.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Pipeline synthesizes and ships response audio. One instance serves one
// client connection; the loading cache entry is delivered at most once per
// instance.
type Pipeline struct {
	tts          tts.Synthesizer
	tempo        TempoAdjuster
	avgMsPerChar float64
	minTempo     float64
	maxTempo     float64
	leadInMs     int
	onFirstAudio func(time.Duration)
	metrics      *observe.Metrics
	logger       *slog.Logger

	loadingWAV  []byte
	loadingMeta audio.WAV

	loadingOnce sync.Once
}

// New validates cfg and creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.TTS == nil {
		return nil, fmt.Errorf("pipeline: config needs a synthesizer")
	}
	p := &Pipeline{
		tts:          cfg.TTS,
		tempo:        cfg.Tempo,
		avgMsPerChar: cfg.AvgMsPerChar,
		minTempo:     cfg.MinTempo,
		maxTempo:     cfg.MaxTempo,
		leadInMs:     cfg.LeadInMs,
		onFirstAudio: cfg.OnFirstAudio,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	if p.avgMsPerChar <= 0 {
		p.avgMsPerChar = DefaultAvgMsPerChar
	}
	if p.minTempo <= 0 {
		p.minTempo = DefaultMinTempo
	}
	if p.maxTempo <= 0 {
		p.maxTempo = DefaultMaxTempo
	}
	if p.leadInMs < 0 {
		p.leadInMs = 0
	} else if p.leadInMs == 0 {
		p.leadInMs = DefaultLeadInMs
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if len(cfg.LoadingWAV) > 0 {
		meta, err := audio.Parse(cfg.LoadingWAV)
		if err != nil {
			return nil, fmt.Errorf("pipeline: loading audio: %w", err)
		}
		p.loadingWAV = cfg.LoadingWAV
		p.loadingMeta = meta
	}
	return p, nil
}

// Speak synthesizes an entire reply in batch mode: the text is split into
// sentences, each sentence is synthesized, optionally tempo-packed into the
// estimated generation time of the next, padded with leading silence, and
// sent in order. Failed sentences are logged and skipped; Speak only returns
// an error when the sink rejects a send.
func (p *Pipeline) Speak(ctx context.Context, sink wire.Sink, text string) error {
	sents := splitSentences(text)
	for i, sentence := range sents {
		wav, meta, ok := p.synthesize(ctx, sentence)
		if !ok {
			continue
		}

		tempo := 1.0
		if p.tempo != nil && i+1 < len(sents) {
			tempo = p.packingTempo(meta.DurationMs(), sents[i+1])
			if tempo != 1.0 {
				adjusted := p.tempo.Adjust(ctx, wav, tempo)
				if m, err := audio.Parse(adjusted); err == nil {
					wav, meta = adjusted, m
				} else {
					tempo = 1.0
				}
			}
		}

		wav = audio.PrependSilence(wav, p.leadInMs)
		if m, err := audio.Parse(wav); err == nil {
			meta = m
		}

		msg := wire.NewAudioSentence(wav, i, len(sents), meta.DurationMs(), meta.SampleRate, tempo)
		if err := sink.Send(ctx, msg); err != nil {
			return fmt.Errorf("pipeline: send sentence %d: %w", i, err)
		}
	}
	return nil
}

// packingTempo computes how much to speed up or slow down the current
// sentence so its playback roughly covers the next sentence's synthesis.
func (p *Pipeline) packingTempo(currentMs int, next string) float64 {
	estimatedNextGenMs := float64(len([]rune(next))) * p.avgMsPerChar
	if estimatedNextGenMs <= 0 || currentMs <= 0 {
		return 1.0
	}
	desired := float64(currentMs) / estimatedNextGenMs
	if desired < p.minTempo {
		return p.minTempo
	}
	if desired > p.maxTempo {
		return p.maxTempo
	}
	return desired
}

// synthesize runs TTS for one sentence and validates the result. A failure
// is logged and reported as not-ok; it never aborts the response.
func (p *Pipeline) synthesize(ctx context.Context, sentence string) ([]byte, audio.WAV, bool) {
	start := time.Now()
	wav, err := p.tts.Synthesize(ctx, sentence)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, "tts", "synthesize")
		}
		p.logger.Warn("tts failed, skipping sentence", "error", err)
		return nil, audio.WAV{}, false
	}
	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	meta, err := audio.Parse(wav)
	if err != nil {
		p.logger.Warn("tts returned invalid audio, skipping sentence", "error", err)
		return nil, audio.WAV{}, false
	}
	return wav, meta, true
}

// Begin starts a streaming response: the loading sound starts looping on the
// client and a Stream is returned for delivering sentences as the agent
// produces them. Always call [Stream.End].
func (p *Pipeline) Begin(ctx context.Context, sink wire.Sink) *Stream {
	loadingCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		p:             p,
		sink:          sink,
		start:         time.Now(),
		cancelLoading: cancel,
	}
	if p.loadingWAV != nil {
		go p.loadingLoop(loadingCtx, sink)
	} else {
		cancel()
	}
	return s
}

// loadingLoop keeps the client's loading sound going until cancelled. The
// first run on a connection also stores the cache entry and streams the raw
// PCM as a fallback, so a client that has never seen the key still plays
// something.
func (p *Pipeline) loadingLoop(ctx context.Context, sink wire.Sink) {
	send := func(msg any) bool {
		if err := sink.Send(ctx, msg); err != nil {
			return false
		}
		return true
	}

	if !send(wire.NewAudioCachePlay(LoadingCacheKey, true)) {
		return
	}
	p.loadingOnce.Do(func() {
		send(wire.NewAudioCacheStore(LoadingCacheKey, p.loadingWAV,
			p.loadingMeta.SampleRate, p.loadingMeta.Channels, p.loadingMeta.DurationMs()))
		p.streamLoadingFallback(ctx, sink)
	})

	interval := time.Duration(p.loadingMeta.DurationMs()) * time.Millisecond
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send(wire.NewAudioCachePlay(LoadingCacheKey, true)) {
				return
			}
		}
	}
}

func (p *Pipeline) streamLoadingFallback(ctx context.Context, sink wire.Sink) {
	const streamID = "loading"
	if err := sink.Send(ctx, wire.NewAudioStreamStart(streamID,
		p.loadingMeta.SampleRate, p.loadingMeta.Channels)); err != nil {
		return
	}
	pcm := p.loadingMeta.PCM
	for off := 0; off < len(pcm); off += streamChunkBytes {
		end := off + streamChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := sink.Send(ctx, wire.NewAudioStreamChunk(streamID, pcm[off:end])); err != nil {
			return
		}
	}
	sink.Send(ctx, wire.NewAudioStreamEnd(streamID))
}

// Stream is one in-flight streaming response.
type Stream struct {
	p             *Pipeline
	sink          wire.Sink
	start         time.Time
	cancelLoading context.CancelFunc

	mu    sync.Mutex
	count int
	ttfa  time.Duration
}

// Sentence synthesizes and sends one sentence. The first successful sentence
// stops the loading loop and records time-to-first-audio. TTS failures are
// logged and skipped; only sink errors are returned.
func (s *Stream) Sentence(ctx context.Context, text string) error {
	wav, meta, ok := s.p.synthesize(ctx, text)
	if !ok {
		return nil
	}
	wav = audio.PrependSilence(wav, s.p.leadInMs)
	if m, err := audio.Parse(wav); err == nil {
		meta = m
	}

	s.mu.Lock()
	index := s.count
	s.count++
	first := index == 0
	if first {
		s.ttfa = time.Since(s.start)
	}
	s.mu.Unlock()

	if first {
		s.cancelLoading()
		s.p.logger.Info("first audio ready", "ttfa_ms", s.ttfa.Milliseconds())
		if s.p.onFirstAudio != nil {
			s.p.onFirstAudio(s.ttfa)
		}
	}

	msg := wire.NewAudioSentence(wav, index, 0, meta.DurationMs(), meta.SampleRate, 1.0)
	if err := s.sink.Send(ctx, msg); err != nil {
		return fmt.Errorf("pipeline: send sentence %d: %w", index, err)
	}
	return nil
}

// End stops the loading loop if it is still running and marks the response
// finished on the client.
func (s *Stream) End(ctx context.Context) error {
	s.cancelLoading()
	if err := s.sink.Send(ctx, wire.NewResponseComplete()); err != nil {
		return fmt.Errorf("pipeline: send response_complete: %w", err)
	}
	return nil
}

// TTFA returns the recorded time-to-first-audio, zero when no sentence has
// been sent yet.
func (s *Stream) TTFA() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttfa
}

// SentenceCount returns how many sentences have been sent.
func (s *Stream) SentenceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
