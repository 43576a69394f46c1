// Package session owns one client's voice interaction: buffering microphone
// audio, transcribing utterances, deciding whether the assistant was
// addressed, and driving the agent and response pipeline for active
// conversations.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/edda-voice/edda/internal/agent"
	"github.com/edda-voice/edda/internal/observe"
	"github.com/edda-voice/edda/internal/pipeline"
	"github.com/edda-voice/edda/internal/tools"
	"github.com/edda-voice/edda/internal/wire"
	"github.com/edda-voice/edda/pkg/memory"
	"github.com/edda-voice/edda/pkg/provider/stt"
)

// Defaults for the session layer.
const (
	// DefaultDebounce is how long after an utterance the session waits for a
	// follow-up before responding. Speakers often pause mid-thought; merging
	// utterances separated by less than this avoids answering half a request.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultWakeWord activates an idle session.
	DefaultWakeWord = "Nyxie"

	// DefaultDeactivationPhrase ends an active conversation.
	DefaultDeactivationPhrase = "done for now"

	// DefaultGreeting is spoken when the wake word arrives with no request.
	DefaultGreeting = "Hi! What can I do for you?"

	// DefaultFarewell is spoken on deactivation.
	DefaultFarewell = "Okay, I'll be here if you need me."

	// persistTimeout bounds the memory write after a conversation ends.
	persistTimeout = 30 * time.Second
)

// State is the input state machine's current mode.
type State int

const (
	// StateIdle: no speech buffered.
	StateIdle State = iota

	// StateListening: audio chunks are being buffered.
	StateListening

	// StateWaitingForMore: an utterance was transcribed and the debounce
	// window for follow-ups is open.
	StateWaitingForMore
)

// ConversationStore persists finished conversations. *memory.Service
// satisfies it; nil disables persistence.
type ConversationStore interface {
	PersistExchanges(ctx context.Context, conversationID string, startedAt time.Time, exchanges []memory.Exchange) error
}

// Config wires a Session together. Transcriber, Agent, Pipeline, and Sink
// are required.
type Config struct {
	Transcriber stt.Transcriber
	Agent       *agent.Agent
	Pipeline    *pipeline.Pipeline
	Sink        wire.Sink

	// Classifier decides wake-word activation. Nil means the session can
	// never activate (useful only in tests).
	Classifier *WakeWordClassifier

	// Memory receives the conversation's exchanges on deactivation.
	Memory ConversationStore

	Debounce           time.Duration
	WakeWord           string
	DeactivationPhrase string
	Greeting           string
	Farewell           string

	// Metrics, when set, receives transcription latency, utterance counts,
	// and the active-conversation gauge.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Session is the per-connection voice state. All exported methods are safe
// for concurrent use; internally the state machine is guarded by one mutex
// and mutations happen under it.
type Session struct {
	ctx context.Context
	cfg Config

	mu            sync.Mutex
	state         State
	buffer        []byte
	queue         []string
	debounce      *time.Timer
	pipelineStart time.Time
	active        bool
	conv          *agent.Conversation
	deactivate    bool
	dispatching   sync.WaitGroup

	persisting sync.WaitGroup
}

// New creates a Session bound to ctx; cancelling ctx stops any in-flight
// dispatch work.
func New(ctx context.Context, cfg Config) *Session {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.WakeWord == "" {
		cfg.WakeWord = DefaultWakeWord
	}
	if cfg.DeactivationPhrase == "" {
		cfg.DeactivationPhrase = DefaultDeactivationPhrase
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Farewell == "" {
		cfg.Farewell = DefaultFarewell
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{ctx: ctx, cfg: cfg, state: StateIdle}
}

// State returns the input state machine's current mode.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a conversation is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// HandleAudioChunk buffers one chunk of PCM16 microphone audio. Audio during
// the debounce window cancels it: the speaker kept going.
func (s *Session) HandleAudioChunk(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, pcm...)
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.state = StateListening
}

// HandleEndSpeech transcribes the buffered utterance. Non-empty
// transcriptions are queued and the debounce window opens; once it elapses
// without further audio the queued utterances are dispatched as one request.
func (s *Session) HandleEndSpeech(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateListening || len(s.buffer) == 0 {
		if s.state == StateListening {
			s.state = StateIdle
		}
		s.buffer = nil
		s.mu.Unlock()
		return
	}
	snapshot := s.buffer
	s.buffer = nil
	if len(s.queue) == 0 {
		s.pipelineStart = time.Now()
	}
	s.mu.Unlock()

	sttStart := time.Now()
	text, err := s.cfg.Transcriber.Transcribe(ctx, snapshot)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	}
	if err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
		s.cfg.Logger.Warn("transcription failed", "error", err)
		text = ""
	}
	text = strings.TrimSpace(text)
	if text != "" && s.cfg.Metrics != nil {
		s.cfg.Metrics.Utterances.Add(ctx, 1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		if s.state == StateListening {
			s.state = StateIdle
		}
		return
	}
	s.queue = append(s.queue, text)
	if len(s.buffer) > 0 {
		// Speech resumed while the transcriber was running; keep listening
		// and merge on the next end_speech.
		s.state = StateListening
		return
	}
	s.state = StateWaitingForMore
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, s.onDebounce)
}

// onDebounce fires when the follow-up window closes: queued utterances are
// merged and dispatched.
func (s *Session) onDebounce() {
	s.mu.Lock()
	if s.state != StateWaitingForMore || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	combined := strings.Join(s.queue, " ")
	started := s.pipelineStart
	s.queue = nil
	s.debounce = nil
	s.state = StateIdle
	s.dispatching.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.dispatching.Done()
		s.dispatch(s.ctx, combined, started)
	}()
}

// dispatch routes one merged transcription: deactivation phrase first, then
// active-conversation processing, then wake-word activation.
func (s *Session) dispatch(ctx context.Context, text string, started time.Time) {
	logger := s.cfg.Logger.With("text", text)
	logger.Info("dispatching transcription", "queued_ms", time.Since(started).Milliseconds())

	if strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.DeactivationPhrase)) {
		if !s.Active() {
			return
		}
		s.deactivateNow(ctx)
		if err := s.cfg.Pipeline.Speak(ctx, s.cfg.Sink, s.cfg.Farewell); err != nil {
			logger.Warn("farewell failed", "error", err)
		}
		return
	}

	if s.Active() {
		s.processTurn(ctx, text)
		return
	}

	if s.cfg.Classifier == nil || !s.cfg.Classifier.Matches(ctx, text) {
		s.send(ctx, wire.NewStatus(wire.StatusInactive))
		return
	}

	s.mu.Lock()
	s.active = true
	s.conv = agent.NewConversation()
	s.mu.Unlock()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveConversations.Add(ctx, 1)
	}
	s.send(ctx, wire.NewStatus(wire.StatusActive))

	stripped := StripWakeWord(text, s.cfg.WakeWord)
	if strings.TrimSpace(stripped) == "" || tokenMatchesWakeWord(stripped, s.cfg.WakeWord) {
		if err := s.cfg.Pipeline.Speak(ctx, s.cfg.Sink, s.cfg.Greeting); err != nil {
			logger.Warn("greeting failed", "error", err)
		}
		return
	}
	s.processTurn(ctx, stripped)
}

// processTurn runs one agent turn in streaming mode with the session scope
// installed, then honours any deactivation a tool requested.
func (s *Session) processTurn(ctx context.Context, text string) {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return
	}

	scope := &tools.Scope{
		ConversationID: conv.ID,
		SetVolume: func(level int) {
			s.send(ctx, wire.NewVolume(level))
		},
		EndConversation: func() {
			s.mu.Lock()
			s.deactivate = true
			s.mu.Unlock()
		},
	}
	turnCtx := tools.WithScope(ctx, scope)

	stream := s.cfg.Pipeline.Begin(turnCtx, s.cfg.Sink)
	for ev := range s.cfg.Agent.ProcessStream(turnCtx, conv, text) {
		switch ev.Kind {
		case agent.EventSentence:
			if err := stream.Sentence(turnCtx, ev.Text); err != nil {
				s.cfg.Logger.Warn("sentence delivery failed", "error", err)
			}
		case agent.EventToolExecuting:
			s.cfg.Logger.Info("executing tool", "tool", ev.ToolName)
		case agent.EventComplete:
		}
	}
	if err := stream.End(turnCtx); err != nil {
		s.cfg.Logger.Warn("stream end failed", "error", err)
	}

	s.mu.Lock()
	requested := s.deactivate
	s.mu.Unlock()
	if requested {
		s.deactivateNow(ctx)
	}
}

// deactivateNow ends the conversation, kicks off memory persistence, and
// notifies the client.
func (s *Session) deactivateNow(ctx context.Context) {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.active = false
	s.deactivate = false
	s.mu.Unlock()

	if conv != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ActiveConversations.Add(ctx, -1)
		}
		s.persistConversation(conv)
	}
	s.send(ctx, wire.NewStatus(wire.StatusDeactivated))
}

// persistConversation writes the conversation's exchanges to memory in the
// background. Close waits for all pending writes.
func (s *Session) persistConversation(conv *agent.Conversation) {
	if s.cfg.Memory == nil {
		return
	}
	exchanges := conv.Exchanges()
	if len(exchanges) == 0 {
		return
	}
	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.cfg.Memory.PersistExchanges(ctx, conv.ID, conv.StartedAt(), exchanges); err != nil {
			s.cfg.Logger.Error("conversation persistence failed",
				"conversation_id", conv.ID, "error", err)
			return
		}
		s.cfg.Logger.Info("conversation persisted",
			"conversation_id", conv.ID, "exchanges", len(exchanges))
	}()
}

// Close disposes the session: an active conversation is persisted and all
// background work is awaited. Called when the connection goes away.
func (s *Session) Close() {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	conv := s.conv
	s.conv = nil
	s.active = false
	s.mu.Unlock()

	if conv != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ActiveConversations.Add(context.Background(), -1)
		}
		s.persistConversation(conv)
	}
	s.dispatching.Wait()
	s.persisting.Wait()
}

func (s *Session) send(ctx context.Context, msg any) {
	if err := s.cfg.Sink.Send(ctx, msg); err != nil {
		s.cfg.Logger.Warn("outbound send failed", "error", err)
	}
}
