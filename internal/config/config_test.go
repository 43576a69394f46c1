package config

import (
	"strings"
	"testing"
	"time"

	"github.com/edda-voice/edda/internal/tools"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
    fast_model: gpt-4o-mini
    temperature: 0.7
  stt:
    model_path: /models/ggml-base.en.bin
    language: en
  embeddings:
    name: ollama
    base_url: http://localhost:11434
    model: nomic-embed-text
    dimensions: 768
tts:
  endpoints:
    - http://tts-1:8004
    - http://tts-2:8004
  voice_dir: /voices
  voice: nova
memory:
  postgres_dsn: postgres://edda@localhost/edda
  decay_weight: 0.4
tools:
  search_url: http://searx:8888
  mcp_servers:
    - name: files
      command: mcp-files --root /data
session:
  wake_word: Nyxie
  debounce: 300ms
pipeline:
  loading_wav_path: /sounds/loading.wav
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.FastModel != "gpt-4o-mini" {
		t.Errorf("fast_model = %q", cfg.Providers.LLM.FastModel)
	}
	if cfg.Providers.Embeddings.Dimensions != 768 {
		t.Errorf("embeddings dimensions = %d", cfg.Providers.Embeddings.Dimensions)
	}
	if len(cfg.TTS.Endpoints) != 2 || cfg.TTS.Endpoints[0] != "http://tts-1:8004" {
		t.Errorf("tts endpoints = %v", cfg.TTS.Endpoints)
	}
	if cfg.Session.Debounce != 300*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Session.Debounce)
	}
	if len(cfg.Tools.MCPServers) != 1 || cfg.Tools.MCPServers[0].Name != "files" {
		t.Errorf("mcp_servers = %v", cfg.Tools.MCPServers)
	}

	// Defaults survive under sections the file does not mention.
	if cfg.Pipeline.MaxTempo != 1.25 {
		t.Errorf("default max_tempo = %v", cfg.Pipeline.MaxTempo)
	}
	if cfg.TTS.BreakerMaxFailures != 3 {
		t.Errorf("default breaker_max_failures = %d", cfg.TTS.BreakerMaxFailures)
	}
	// The health probe runs before every synthesis call, so its default must
	// stay fast enough not to stall the first audio.
	if cfg.TTS.HealthTimeout != 150*time.Millisecond {
		t.Errorf("default health_timeout = %v, want 150ms", cfg.TTS.HealthTimeout)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: ':1'\n"))
	if err == nil {
		t.Fatal("misspelled key should be rejected")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.LogLevel = "loud"
	cfg.Providers.LLM.Name = "skynet"
	cfg.Providers.LLM.Temperature = 3.5
	cfg.Providers.STT.ModelPath = "/models/ggml.bin"
	cfg.TTS.Endpoints = []string{"http://tts:8004"}
	cfg.Memory.DecayWeight = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, want := range []string{"log_level", "llm.name", "temperature", "decay_weight"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidate_MCPServerNeedsOneTransport(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Providers.STT.ModelPath = "/models/ggml.bin"
		cfg.TTS.Endpoints = []string{"http://tts:8004"}
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	cfg := valid()
	cfg.Tools.MCPServers = []tools.MCPServerConfig{{Name: "both", Command: "x", URL: "http://y"}}
	if err := cfg.Validate(); err == nil {
		t.Error("command and url together should be rejected")
	}

	cfg = valid()
	cfg.Tools.MCPServers = []tools.MCPServerConfig{{Name: "neither"}}
	if err := cfg.Validate(); err == nil {
		t.Error("missing transport should be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EDDA_LLM_API_KEY", "sk-env")
	t.Setenv("EDDA_TTS_ENDPOINTS", "http://a:8004, http://b:8004")
	t.Setenv("EDDA_SEARCH_URL", "http://searx-env:8888")

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env override", cfg.Providers.LLM.APIKey)
	}
	if len(cfg.TTS.Endpoints) != 2 || cfg.TTS.Endpoints[1] != "http://b:8004" {
		t.Errorf("tts endpoints = %v", cfg.TTS.Endpoints)
	}
	if cfg.Tools.SearchURL != "http://searx-env:8888" {
		t.Errorf("search_url = %q", cfg.Tools.SearchURL)
	}
}
