// Package stt defines the transcription port used by the voice session: a
// single-call contract that turns a finished PCM utterance into text.
//
// Implementations wrap a local model (whisper.cpp) or a remote speech API.
// Each call is independent — implementations must be reentrant and safe for
// concurrent use.
package stt

import "context"

// Transcriber converts a complete utterance of 16-bit mono little-endian PCM
// (at the session's configured sample rate, nominally 16 kHz) into text.
//
// Transcribe returns an empty string when transcription fails or the audio
// contains no recognisable speech; it never panics to the caller. Errors are
// reported for logging only — callers treat ("", err) and ("", nil) alike.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
