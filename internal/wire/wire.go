// Package wire defines the JSON messages exchanged with voice clients over
// the duplex socket, plus the Sink abstraction outbound producers write to.
// Every message is a JSON text frame with a "type" discriminator.
package wire

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message type discriminators.
const (
	TypeAudioChunk = "audio_chunk"
	TypeEndSpeech  = "end_speech"

	TypeStatus           = "status"
	TypeAudioSentence    = "audio_sentence"
	TypeAudioCachePlay   = "audio_cache_play"
	TypeAudioCacheStore  = "audio_cache_store"
	TypeAudioStreamStart = "audio_stream_start"
	TypeAudioStreamChunk = "audio_stream_chunk"
	TypeAudioStreamEnd   = "audio_stream_end"
	TypeResponseComplete = "response_complete"
	TypeVolume           = "volume"
)

// Session status values carried by Status messages.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusDeactivated = "deactivated"
)

// Sink delivers outbound messages to one client connection. Implementations
// serialise to JSON and enforce single-sender ordering; Send blocks when the
// outbound queue is full, giving producers back-pressure.
type Sink interface {
	Send(ctx context.Context, msg any) error
}

// Inbound is the envelope for client-to-server messages.
type Inbound struct {
	Type string `json:"type"`

	// Data is base64-encoded PCM16 mono audio for audio_chunk messages.
	Data string `json:"data,omitempty"`
}

// ParseInbound decodes one client frame.
func ParseInbound(frame []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("wire: frame missing type")
	}
	return in, nil
}

// PCM decodes the base64 audio payload of an audio_chunk message.
func (in Inbound) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, fmt.Errorf("wire: bad audio payload: %w", err)
	}
	return pcm, nil
}

// Status reports session activation changes to the client.
type Status struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// NewStatus builds a status message.
func NewStatus(status string) Status {
	return Status{Type: TypeStatus, Status: status}
}

// AudioSentence carries one synthesized sentence as a base64 WAV.
// TotalSentences is 0 in streaming mode, where the count is unknown.
type AudioSentence struct {
	Type           string  `json:"type"`
	Data           string  `json:"data"`
	SentenceIndex  int     `json:"sentence_index"`
	TotalSentences int     `json:"total_sentences"`
	DurationMs     int     `json:"duration_ms"`
	SampleRate     int     `json:"sample_rate"`
	TempoApplied   float64 `json:"tempo_applied"`
}

// NewAudioSentence builds an audio_sentence message from raw WAV bytes.
func NewAudioSentence(wav []byte, index, total, durationMs, sampleRate int, tempo float64) AudioSentence {
	return AudioSentence{
		Type:           TypeAudioSentence,
		Data:           base64.StdEncoding.EncodeToString(wav),
		SentenceIndex:  index,
		TotalSentences: total,
		DurationMs:     durationMs,
		SampleRate:     sampleRate,
		TempoApplied:   tempo,
	}
}

// AudioCachePlay tells the client to play a cached audio entry.
type AudioCachePlay struct {
	Type     string `json:"type"`
	CacheKey string `json:"cache_key"`
	Loop     bool   `json:"loop"`
}

// NewAudioCachePlay builds an audio_cache_play message.
func NewAudioCachePlay(key string, loop bool) AudioCachePlay {
	return AudioCachePlay{Type: TypeAudioCachePlay, CacheKey: key, Loop: loop}
}

// AudioCacheStore delivers a content-addressed audio entry for the client's
// local cache.
type AudioCacheStore struct {
	Type       string `json:"type"`
	CacheKey   string `json:"cache_key"`
	Data       string `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	DurationMs int    `json:"duration_ms"`
}

// NewAudioCacheStore builds an audio_cache_store message from raw WAV bytes.
func NewAudioCacheStore(key string, wav []byte, sampleRate, channels, durationMs int) AudioCacheStore {
	return AudioCacheStore{
		Type:       TypeAudioCacheStore,
		CacheKey:   key,
		Data:       base64.StdEncoding.EncodeToString(wav),
		SampleRate: sampleRate,
		Channels:   channels,
		DurationMs: durationMs,
	}
}

// AudioStreamStart opens a raw PCM stream, the fallback path for audio the
// client has not cached yet.
type AudioStreamStart struct {
	Type         string `json:"type"`
	Stream       string `json:"stream"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	SampleFormat string `json:"sample_format"`
}

// NewAudioStreamStart builds an audio_stream_start message for s16le PCM.
func NewAudioStreamStart(stream string, sampleRate, channels int) AudioStreamStart {
	return AudioStreamStart{
		Type:         TypeAudioStreamStart,
		Stream:       stream,
		SampleRate:   sampleRate,
		Channels:     channels,
		SampleFormat: "s16le",
	}
}

// AudioStreamChunk carries one base64 PCM chunk of an open stream.
type AudioStreamChunk struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// NewAudioStreamChunk builds an audio_stream_chunk message from raw PCM.
func NewAudioStreamChunk(stream string, pcm []byte) AudioStreamChunk {
	return AudioStreamChunk{
		Type:   TypeAudioStreamChunk,
		Stream: stream,
		Data:   base64.StdEncoding.EncodeToString(pcm),
	}
}

// AudioStreamEnd closes an open PCM stream.
type AudioStreamEnd struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
}

// NewAudioStreamEnd builds an audio_stream_end message.
func NewAudioStreamEnd(stream string) AudioStreamEnd {
	return AudioStreamEnd{Type: TypeAudioStreamEnd, Stream: stream}
}

// ResponseComplete marks the end of one spoken response.
type ResponseComplete struct {
	Type string `json:"type"`
}

// NewResponseComplete builds a response_complete message.
func NewResponseComplete() ResponseComplete {
	return ResponseComplete{Type: TypeResponseComplete}
}

// Volume asks the client to change playback volume.
type Volume struct {
	Type     string `json:"type"`
	Value    int    `json:"value"`
	Relative bool   `json:"relative"`
}

// NewVolume builds an absolute volume message.
func NewVolume(value int) Volume {
	return Volume{Type: TypeVolume, Value: value}
}
