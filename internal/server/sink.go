package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// outboundQueueSize bounds the per-connection send queue. Producers block
// when it fills, which back-pressures the TTS layer instead of buffering
// unbounded audio for a slow client.
const outboundQueueSize = 1024

// ErrSinkClosed is returned by Send after the connection's sender has
// stopped.
var ErrSinkClosed = errors.New("server: outbound sink closed")

// sink serialises outbound messages onto one websocket connection. A single
// sender goroutine drains the queue, so message order is exactly enqueue
// order.
type sink struct {
	conn   *websocket.Conn
	queue  chan any
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
}

func newSink(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) *sink {
	s := &sink{
		conn:   conn,
		queue:  make(chan any, outboundQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run(ctx)
	return s
}

// Send enqueues msg for delivery, blocking while the queue is full.
func (s *sink) Send(ctx context.Context, msg any) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sink) run(ctx context.Context) {
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("unmarshalable outbound message", "error", err,
					"message_type", fmt.Sprintf("%T", msg))
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
				s.logger.Debug("outbound write failed, closing sink", "error", err)
				return
			}
		}
	}
}

func (s *sink) close() {
	s.once.Do(func() { close(s.done) })
}
