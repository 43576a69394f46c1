// Package mock provides an in-memory [stt.Transcriber] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/edda-voice/edda/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber returns scripted transcripts in order and records every call.
type Transcriber struct {
	mu      sync.Mutex
	results []string
	errs    []error
	idx     int

	// Calls holds the PCM payload of every Transcribe invocation.
	Calls [][]byte

	// Fn, when set, overrides the scripted results entirely.
	Fn func(ctx context.Context, pcm []byte) (string, error)
}

// New creates a Transcriber that returns the given transcripts in sequence.
// After the script is exhausted it returns the last entry (or "" if empty).
func New(results ...string) *Transcriber {
	return &Transcriber{results: results}
}

// QueueError makes the next scripted call return err alongside "".
func (m *Transcriber) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Transcribe implements [stt.Transcriber].
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if m.Fn != nil {
		return m.Fn(ctx, pcm)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, pcm)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.results) == 0 {
		return "", nil
	}
	r := m.results[min(m.idx, len(m.results)-1)]
	m.idx++
	return r, nil
}
