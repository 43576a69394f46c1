// Package audio implements the PCM/WAV codec used throughout the Edda voice
// pipeline: parsing and building mono 16-bit RIFF/WAVE containers, prepending
// leading silence, and tempo adjustment via an external audio filter process.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned when a byte slice is not a parseable mono 16-bit
// PCM RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// WAV holds the decoded contents of a RIFF/WAVE container.
type WAV struct {
	// PCM is the raw sample data (16-bit signed little-endian).
	PCM []byte

	// SampleRate in Hz (e.g., 16000, 24000).
	SampleRate int

	// Channels is the channel count. Only mono (1) is produced by the pipeline,
	// but Parse reports whatever the container declares.
	Channels int

	// BitsPerSample is the sample width. Only 16 is accepted.
	BitsPerSample int
}

// DurationMs returns the playback duration of the PCM payload in milliseconds.
func (w WAV) DurationMs() int {
	bytesPerSec := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return len(w.PCM) * 1000 / bytesPerSec
}

// Parse decodes a RIFF/WAVE container. It walks the chunk list rather than
// assuming a fixed 44-byte header because the fmt chunk size may vary and
// encoders often insert LIST or fact chunks before data.
//
// Only PCM (format 1) with 16 bits per sample is accepted.
func Parse(data []byte) (WAV, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		w        WAV
		foundFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return WAV{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return WAV{}, fmt.Errorf("%w: unsupported audio format %d (want PCM)", ErrInvalidWAV, format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if w.BitsPerSample != 16 {
				return WAV{}, fmt.Errorf("%w: unsupported bit depth %d (want 16)", ErrInvalidWAV, w.BitsPerSample)
			}
			foundFmt = true

		case "data":
			if !foundFmt {
				return WAV{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + chunkSize
			if end > len(data) {
				end = len(data)
			}
			w.PCM = data[body:end]
			return w, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAV{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// BuildWav wraps raw PCM data in a standard 44-byte RIFF/WAVE container.
func BuildWav(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// PrependSilence returns a new WAV with ms milliseconds of silence inserted
// before the existing samples. The pad length is rounded up to an even byte
// count so sample alignment is preserved.
//
// The input is returned unchanged when ms <= 0 or when it is not a valid WAV.
func PrependSilence(wav []byte, ms int) []byte {
	if ms <= 0 {
		return wav
	}
	w, err := Parse(wav)
	if err != nil {
		return wav
	}

	samples := (w.SampleRate*ms + 999) / 1000 // round up to a whole sample
	padBytes := samples * w.Channels * (w.BitsPerSample / 8)
	if padBytes%2 != 0 {
		padBytes++
	}

	pcm := make([]byte, padBytes+len(w.PCM))
	copy(pcm[padBytes:], w.PCM)
	return BuildWav(pcm, w.SampleRate, w.Channels, w.BitsPerSample)
}
