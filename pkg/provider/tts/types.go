package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Voice is a cloning reference: a short WAV sample of the target speaker.
// The server identifies uploaded references by Hash, so the same voice is
// uploaded at most once per server.
type Voice struct {
	// Name is the human-readable voice name (the reference file's base name).
	Name string

	// Hash is the first 16 hex characters of the SHA-256 of Data. It is the
	// voice_id used on the wire.
	Hash string

	// Data is the raw WAV reference audio.
	Data []byte
}

// NewVoice builds a Voice from raw reference audio.
func NewVoice(name string, data []byte) Voice {
	sum := sha256.Sum256(data)
	return Voice{
		Name: name,
		Hash: hex.EncodeToString(sum[:])[:16],
		Data: data,
	}
}

// LoadVoice reads a WAV reference file into a Voice. The voice name is the
// file's base name without extension.
func LoadVoice(path string) (Voice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Voice{}, fmt.Errorf("tts: read voice reference: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewVoice(name, data), nil
}

// LoadVoiceDir reads all .wav files in dir as voice references, sorted by
// name. Missing or empty directories yield an empty slice, not an error.
func LoadVoiceDir(dir string) ([]Voice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tts: read voice dir: %w", err)
	}

	var voices []Voice
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		v, err := LoadVoice(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })
	return voices, nil
}
