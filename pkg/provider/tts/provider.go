// Package tts provides the speech synthesis client for the voice pipeline.
//
// The concrete Client targets one or more Chatterbox-style TTS servers:
// batch HTTP synthesis (POST /tts returning a WAV body), voice cloning via
// hashed reference uploads, and a /health endpoint reporting whether the
// model is loaded. Multiple servers are tried in priority order, typically a
// GPU box on the LAN first and a slower local fallback second.
package tts

import "context"

// Synthesizer converts one sentence of text into WAV audio. Implementations
// must be safe for concurrent use; the response pipeline issues overlapping
// calls to hide synthesis latency.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
