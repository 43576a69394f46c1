// Package mock provides a test double for the tts.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/edda-voice/edda/pkg/audio"
	"github.com/edda-voice/edda/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer returns a synthetic WAV for every call and records inputs.
// The generated audio is sized proportionally to the text so timing logic
// (packing, time-to-first-audio) behaves realistically in tests.
type Synthesizer struct {
	mu sync.Mutex

	// SampleRate of generated WAVs. Defaults to 24000 when zero.
	SampleRate int

	// MsPerChar sets generated audio duration per input character.
	// Defaults to 35ms when zero.
	MsPerChar int

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Fn, when set, overrides the default behaviour entirely.
	Fn func(ctx context.Context, text string) ([]byte, error)

	// Calls records every synthesized text in order.
	Calls []string
}

// Synthesize implements tts.Synthesizer.
func (m *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if m.Fn != nil {
		return m.Fn(ctx, text)
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, text)
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sr := m.SampleRate
	if sr == 0 {
		sr = 24000
	}
	msPerChar := m.MsPerChar
	if msPerChar == 0 {
		msPerChar = 35
	}

	samples := sr * len(text) * msPerChar / 1000
	if samples == 0 {
		samples = 1
	}
	return audio.BuildWav(make([]byte, samples*2), sr, 1, 16), nil
}

// CallCount returns how many times Synthesize was invoked.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
