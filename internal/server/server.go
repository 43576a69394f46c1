// Package server accepts voice-client websocket connections and pumps their
// frames into per-connection sessions. One goroutine reads inbound frames;
// outbound traffic flows through a bounded single-sender sink, so each
// connection has exactly one reader and one writer on the socket.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/edda-voice/edda/internal/session"
	"github.com/edda-voice/edda/internal/wire"
)

// SessionFactory builds the session for one accepted connection. The context
// is the connection's root context; it is cancelled when the client goes
// away.
type SessionFactory func(ctx context.Context, sink wire.Sink) *session.Session

// Server is the websocket endpoint voice clients connect to.
type Server struct {
	newSession SessionFactory
	logger     *slog.Logger
	accept     *websocket.AcceptOptions
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithOriginPatterns restricts which browser origins may connect. By default
// any origin is accepted; the deployments this serves are LAN devices
// without an Origin header at all.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.accept = &websocket.AcceptOptions{OriginPatterns: patterns}
	}
}

// New creates a Server that builds a session per connection via factory.
func New(factory SessionFactory, opts ...Option) *Server {
	s := &Server{
		newSession: factory,
		logger:     slog.Default(),
		accept:     &websocket.AcceptOptions{InsecureSkipVerify: true},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and runs the connection until the client
// disconnects or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snk := newSink(ctx, conn, logger)
	sess := s.newSession(ctx, snk)
	if sess == nil {
		logger.Error("session factory returned nil")
		conn.Close(websocket.StatusInternalError, "session init failed")
		return
	}
	defer sess.Close()

	s.readLoop(ctx, conn, sess, logger)
	conn.Close(websocket.StatusNormalClosure, "")
	logger.Info("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, logger *slog.Logger) {
	for {
		msgType, frame, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		in, err := wire.ParseInbound(frame)
		if err != nil {
			logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch in.Type {
		case wire.TypeAudioChunk:
			pcm, err := in.PCM()
			if err != nil {
				logger.Warn("dropping audio chunk", "error", err)
				continue
			}
			sess.HandleAudioChunk(pcm)

		case wire.TypeEndSpeech:
			// Transcription blocks on the STT backend; keep reading audio
			// for the next utterance meanwhile.
			go sess.HandleEndSpeech(ctx)

		default:
			logger.Debug("ignoring unknown message type", "type", in.Type)
		}
	}
}
