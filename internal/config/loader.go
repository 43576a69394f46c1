package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with sensible defaults for local development.
// Load starts from this and overlays the file contents.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Providers: ProvidersConfig{
			LLM: LLMConfig{
				Name:  "openai",
				Model: "gpt-4o-mini",
			},
			STT: STTConfig{
				SampleRate: 16000,
			},
			Embeddings: EmbeddingsConfig{
				Name:  "openai",
				Model: "text-embedding-3-small",
			},
		},
		TTS: TTSConfig{
			Exaggeration:        0.5,
			CFGWeight:           0.5,
			HealthTimeout:       150 * time.Millisecond,
			RequestTimeout:      30 * time.Second,
			BreakerMaxFailures:  3,
			BreakerResetTimeout: 30 * time.Second,
			RetryMaxAttempts:    2,
			RetryInitialDelay:   200 * time.Millisecond,
			HealthPollInterval:  30 * time.Second,
		},
		Session: SessionConfig{
			WakeWord:           "Nyxie",
			Debounce:           200 * time.Millisecond,
			DeactivationPhrase: "done for now",
		},
		Memory: MemoryConfig{
			DecayWeight:   0.3,
			HalfLifeHours: 168,
			SearchLimit:   5,
		},
		Tools: ToolsConfig{
			CallTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			AvgMsPerChar: 35,
			MinTempo:     0.85,
			MaxTempo:     1.25,
			LeadInMs:     150,
		},
	}
}

// Load reads, parses, and validates the configuration file at path.
// Environment overrides are applied after the file, before validation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses and validates configuration YAML from r.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file means all defaults.
			err = nil
		} else {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Secrets and
// deployment endpoints can thereby be kept out of the config file.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.ListenAddr, "EDDA_LISTEN_ADDR")
	set(&c.Providers.LLM.APIKey, "EDDA_LLM_API_KEY")
	set(&c.Providers.LLM.BaseURL, "EDDA_LLM_BASE_URL")
	set(&c.Providers.Embeddings.APIKey, "EDDA_EMBEDDINGS_API_KEY")
	set(&c.Memory.PostgresDSN, "EDDA_POSTGRES_DSN")
	set(&c.Tools.SearchURL, "EDDA_SEARCH_URL")

	if v := os.Getenv("EDDA_TTS_ENDPOINTS"); v != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		c.TTS.Endpoints = endpoints
	}
}

// knownLLMProviders lists the accepted providers.llm.name values.
var knownLLMProviders = map[string]bool{
	"openai":    true,
	"ollama":    true,
	"groq":      true,
	"anthropic": true,
	"mistral":   true,
	"deepseek":  true,
	"gemini":    true,
}

// Validate checks the configuration for hard errors and returns them all
// joined. Soft problems that only degrade functionality are logged as
// warnings instead.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	if !knownLLMProviders[c.Providers.LLM.Name] {
		errs = append(errs, fmt.Errorf("providers.llm.name %q is not a supported backend", c.Providers.LLM.Name))
	}
	if c.Providers.LLM.Model == "" {
		errs = append(errs, errors.New("providers.llm.model must not be empty"))
	}
	if t := c.Providers.LLM.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %v is outside [0, 2]", t))
	}

	if c.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path must not be empty"))
	}
	if c.Providers.STT.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("providers.stt.sample_rate %d must be positive", c.Providers.STT.SampleRate))
	}

	switch c.Providers.Embeddings.Name {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("providers.embeddings.name %q is not one of openai, ollama", c.Providers.Embeddings.Name))
	}

	if len(c.TTS.Endpoints) == 0 {
		errs = append(errs, errors.New("tts.endpoints must list at least one endpoint"))
	}
	if c.TTS.BreakerMaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("tts.breaker_max_failures %d must be positive", c.TTS.BreakerMaxFailures))
	}

	if c.Session.WakeWord == "" {
		errs = append(errs, errors.New("session.wake_word must not be empty"))
	}
	if c.Session.Debounce < 0 {
		errs = append(errs, fmt.Errorf("session.debounce %v must not be negative", c.Session.Debounce))
	}

	if w := c.Memory.DecayWeight; w < 0 || w > 1 {
		errs = append(errs, fmt.Errorf("memory.decay_weight %v is outside [0, 1]", w))
	}
	if c.Memory.HalfLifeHours <= 0 {
		errs = append(errs, fmt.Errorf("memory.half_life_hours %v must be positive", c.Memory.HalfLifeHours))
	}

	if c.Pipeline.MinTempo <= 0 || c.Pipeline.MaxTempo < c.Pipeline.MinTempo {
		errs = append(errs, fmt.Errorf("pipeline tempo bounds [%v, %v] are invalid", c.Pipeline.MinTempo, c.Pipeline.MaxTempo))
	}
	if c.Pipeline.AvgMsPerChar <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.avg_ms_per_char %v must be positive", c.Pipeline.AvgMsPerChar))
	}

	for i, srv := range c.Tools.MCPServers {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("tools.mcp_servers[%d]: name must not be empty", i))
		}
		if (srv.Command == "") == (srv.URL == "") {
			errs = append(errs, fmt.Errorf("tools.mcp_servers[%d]: exactly one of command or url must be set", i))
		}
	}

	// Degraded-but-runnable setups get warnings, not errors.
	if c.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty, long-term memory is disabled")
	}
	if c.Tools.SearchURL == "" {
		slog.Warn("tools.search_url is empty, web search tools are disabled")
	}
	if c.Pipeline.LoadingWAVPath == "" {
		slog.Warn("pipeline.loading_wav_path is empty, no thinking sound will play")
	}
	if c.Providers.LLM.APIKey == "" && c.Providers.LLM.Name != "ollama" {
		slog.Warn("providers.llm.api_key is empty", "provider", c.Providers.LLM.Name)
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Server.LogLevel {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
