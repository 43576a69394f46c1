package whisper

import (
	"math"
	"testing"
)

func TestPCMToFloat32(t *testing.T) {
	// int16 samples: 0, 16384, -16384, 32767, -32768
	pcm := []byte{
		0x00, 0x00,
		0x00, 0x40,
		0x00, 0xC0,
		0xFF, 0x7F,
		0x00, 0x80,
	}
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}

	got := pcmToFloat32(pcm)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32_OddTrailingByte(t *testing.T) {
	got := pcmToFloat32([]byte{0x00, 0x40, 0x7F})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (trailing byte dropped)", len(got))
	}
}

func TestNew_EmptyPathRejected(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}
