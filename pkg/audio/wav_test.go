package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// pcmSamples builds a deterministic little-endian PCM buffer of n 16-bit samples.
func pcmSamples(n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i*37))
	}
	return buf
}

func TestParse_Roundtrip(t *testing.T) {
	pcm := pcmSamples(480)
	wav := BuildWav(pcm, 16000, 1, 16)

	got, err := Parse(wav)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got.SampleRate)
	}
	if got.Channels != 1 {
		t.Errorf("Channels = %d, want 1", got.Channels)
	}
	if got.BitsPerSample != 16 {
		t.Errorf("BitsPerSample = %d, want 16", got.BitsPerSample)
	}
	if !bytes.Equal(got.PCM, pcm) {
		t.Errorf("PCM payload differs after roundtrip (%d vs %d bytes)", len(got.PCM), len(pcm))
	}
}

func TestParse_ExtraChunkBeforeData(t *testing.T) {
	// Insert a LIST chunk between fmt and data; Parse must walk past it.
	pcm := pcmSamples(10)
	wav := BuildWav(pcm, 22050, 1, 16)

	list := make([]byte, 8+4)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 4)
	copy(list[8:12], "INFO")

	// Splice LIST in after the fmt chunk (ends at offset 36).
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	got, err := Parse(spliced)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(got.PCM, pcm) {
		t.Error("PCM payload differs when a LIST chunk precedes data")
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string][]byte{
		"empty":      nil,
		"too short":  []byte("RIFF"),
		"not riff":   bytes.Repeat([]byte{0xAB}, 64),
		"no data":    BuildWav(nil, 16000, 1, 16)[:40],
		"8-bit":      buildWavWithDepth(pcmSamples(4), 16000, 1, 8),
		"ieee float": buildWavWithFormat(pcmSamples(4), 16000, 1, 16, 3),
	}
	for name, data := range cases {
		if _, err := Parse(data); err == nil {
			t.Errorf("%s: Parse accepted invalid input", name)
		}
	}
}

func buildWavWithDepth(pcm []byte, sr, ch, bps int) []byte {
	w := BuildWav(pcm, sr, ch, bps)
	binary.LittleEndian.PutUint16(w[34:36], uint16(bps))
	return w
}

func buildWavWithFormat(pcm []byte, sr, ch, bps int, format uint16) []byte {
	w := BuildWav(pcm, sr, ch, bps)
	binary.LittleEndian.PutUint16(w[20:22], format)
	return w
}

func TestPrependSilence_PadLength(t *testing.T) {
	cases := []struct {
		sampleRate int
		ms         int
	}{
		{16000, 150},
		{16000, 3},
		{22050, 3},   // 66.15 samples → rounds up to 67
		{24000, 150},
		{44100, 7},
	}
	for _, tc := range cases {
		pcm := pcmSamples(100)
		wav := BuildWav(pcm, tc.sampleRate, 1, 16)

		padded, err := Parse(PrependSilence(wav, tc.ms))
		if err != nil {
			t.Fatalf("sr=%d ms=%d: Parse: %v", tc.sampleRate, tc.ms, err)
		}

		wantPad := 2 * ((tc.sampleRate*tc.ms + 999) / 1000)
		if wantPad%2 != 0 {
			wantPad++
		}
		gotPad := len(padded.PCM) - len(pcm)
		if gotPad != wantPad {
			t.Errorf("sr=%d ms=%d: pad = %d bytes, want %d", tc.sampleRate, tc.ms, gotPad, wantPad)
		}

		// Pad must be silence and the original samples must be intact.
		for i := 0; i < gotPad; i++ {
			if padded.PCM[i] != 0 {
				t.Fatalf("sr=%d ms=%d: pad byte %d is non-zero", tc.sampleRate, tc.ms, i)
			}
		}
		if !bytes.Equal(padded.PCM[gotPad:], pcm) {
			t.Errorf("sr=%d ms=%d: original samples corrupted", tc.sampleRate, tc.ms)
		}
	}
}

func TestPrependSilence_NonPositive(t *testing.T) {
	wav := BuildWav(pcmSamples(8), 16000, 1, 16)
	if got := PrependSilence(wav, 0); !bytes.Equal(got, wav) {
		t.Error("ms=0 should return input unchanged")
	}
	if got := PrependSilence(wav, -10); !bytes.Equal(got, wav) {
		t.Error("negative ms should return input unchanged")
	}
}

func TestDurationMs(t *testing.T) {
	// 16000 samples at 16 kHz mono 16-bit = exactly 1 s.
	w := WAV{PCM: make([]byte, 32000), SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	if got := w.DurationMs(); got != 1000 {
		t.Errorf("DurationMs = %d, want 1000", got)
	}
}

func TestTempoFilter_IdentityAndClamp(t *testing.T) {
	wav := BuildWav(pcmSamples(64), 16000, 1, 16)
	f := &TempoFilter{Binary: "/nonexistent/ffmpeg"}

	// Identity window never touches the child process.
	if got := f.Adjust(t.Context(), wav, 1.0); !bytes.Equal(got, wav) {
		t.Error("factor 1.0 should be identity")
	}
	if got := f.Adjust(t.Context(), wav, 0.995); !bytes.Equal(got, wav) {
		t.Error("factor within epsilon should be identity")
	}
}

func TestTempoFilter_FallbackOnFailure(t *testing.T) {
	// A missing binary must degrade to the original bytes, never an error.
	wav := BuildWav(pcmSamples(64), 16000, 1, 16)
	f := &TempoFilter{Binary: "/nonexistent/ffmpeg"}

	if got := f.Adjust(t.Context(), wav, 1.2); !bytes.Equal(got, wav) {
		t.Error("failed filter should return original audio")
	}
}
