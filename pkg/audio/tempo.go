package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

const (
	// minTempoFactor and maxTempoFactor bound the atempo filter range that can
	// be expressed in a single filter stage.
	minTempoFactor = 0.5
	maxTempoFactor = 2.0

	// tempoIdentityEpsilon: factors this close to 1.0 skip the filter entirely.
	tempoIdentityEpsilon = 0.01
)

// TempoFilter adjusts the playback tempo of WAV audio by piping it through an
// external ffmpeg process. A zero value uses "ffmpeg" from PATH.
type TempoFilter struct {
	// Binary is the filter executable. Defaults to "ffmpeg" when empty.
	Binary string
}

// Adjust returns wav resampled to play at the given tempo factor without
// changing pitch. The factor is clamped to [0.5, 2.0]; factors within 1% of
// identity return the input unchanged.
//
// The child process is driven with three concurrent I/O paths (stdin write,
// stdout read, stderr read) so that neither side can deadlock on a full pipe.
// On any failure the original bytes are returned and a warning is logged —
// tempo adjustment is an optimisation, never a reason to drop a sentence.
func (f *TempoFilter) Adjust(ctx context.Context, wav []byte, factor float64) []byte {
	if factor < minTempoFactor {
		factor = minTempoFactor
	}
	if factor > maxTempoFactor {
		factor = maxTempoFactor
	}
	if factor > 1.0-tempoIdentityEpsilon && factor < 1.0+tempoIdentityEpsilon {
		return wav
	}

	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-filter:a", fmt.Sprintf("atempo=%.4f", factor),
		"-f", "wav", "pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		slog.Warn("tempo filter: stdin pipe", "err", err)
		return wav
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		slog.Warn("tempo filter: stdout pipe", "err", err)
		return wav
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		slog.Warn("tempo filter: stderr pipe", "err", err)
		return wav
	}

	if err := cmd.Start(); err != nil {
		slog.Warn("tempo filter: start", "binary", binary, "err", err)
		return wav
	}

	var (
		wg       sync.WaitGroup
		out      []byte
		errText  []byte
		writeErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		_, writeErr = stdin.Write(wav)
		stdin.Close()
	}()
	go func() {
		defer wg.Done()
		out, _ = io.ReadAll(stdout)
	}()
	go func() {
		defer wg.Done()
		errText, _ = io.ReadAll(stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		slog.Warn("tempo filter: process failed, keeping original audio",
			"factor", factor,
			"err", err,
			"stderr", string(bytes.TrimSpace(errText)),
		)
		return wav
	}
	if writeErr != nil {
		slog.Warn("tempo filter: stdin write failed, keeping original audio", "err", writeErr)
		return wav
	}
	if len(out) == 0 {
		slog.Warn("tempo filter: empty output, keeping original audio", "factor", factor)
		return wav
	}

	// ffmpeg writes a zero-length RIFF size when streaming to a pipe; reparse
	// and rebuild so downstream duration math sees a well-formed container.
	w, err := Parse(fixRIFFSizes(out))
	if err != nil {
		slog.Warn("tempo filter: unparseable output, keeping original audio", "err", err)
		return wav
	}
	return BuildWav(w.PCM, w.SampleRate, w.Channels, w.BitsPerSample)
}

// fixRIFFSizes patches the RIFF and data chunk sizes that ffmpeg leaves as
// 0xFFFFFFFF (or 0) when it cannot seek back over a pipe.
func fixRIFFSizes(wav []byte) []byte {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" {
		return wav
	}
	patched := append([]byte(nil), wav...)
	putU32(patched[4:8], uint32(len(patched)-8))

	// Locate the data chunk and patch its size to the remaining byte count.
	offset := 12
	for offset+8 <= len(patched) {
		id := string(patched[offset : offset+4])
		size := int(u32(patched[offset+4 : offset+8]))
		if id == "data" {
			putU32(patched[offset+4:offset+8], uint32(len(patched)-offset-8))
			return patched
		}
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return patched
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
