// Command edda is the main entry point for the Edda voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edda-voice/edda/internal/agent"
	"github.com/edda-voice/edda/internal/config"
	"github.com/edda-voice/edda/internal/observe"
	"github.com/edda-voice/edda/internal/pipeline"
	"github.com/edda-voice/edda/internal/promptctx"
	"github.com/edda-voice/edda/internal/server"
	"github.com/edda-voice/edda/internal/session"
	"github.com/edda-voice/edda/internal/tools"
	"github.com/edda-voice/edda/internal/wire"
	"github.com/edda-voice/edda/pkg/audio"
	"github.com/edda-voice/edda/pkg/memory"
	"github.com/edda-voice/edda/pkg/memory/postgres"
	"github.com/edda-voice/edda/pkg/provider/embeddings"
	ollamaembed "github.com/edda-voice/edda/pkg/provider/embeddings/ollama"
	oaembed "github.com/edda-voice/edda/pkg/provider/embeddings/openai"
	"github.com/edda-voice/edda/pkg/provider/llm"
	"github.com/edda-voice/edda/pkg/provider/llm/anyllm"
	oaillm "github.com/edda-voice/edda/pkg/provider/llm/openai"
	"github.com/edda-voice/edda/pkg/provider/stt/whisper"
	"github.com/edda-voice/edda/pkg/provider/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "edda: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "edda: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("edda starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Speech to text ────────────────────────────────────────────────────────
	var sttOpts []whisper.Option
	if cfg.Providers.STT.Language != "" {
		sttOpts = append(sttOpts, whisper.WithLanguage(cfg.Providers.STT.Language))
	}
	transcriber, err := whisper.New(cfg.Providers.STT.ModelPath, sttOpts...)
	if err != nil {
		slog.Error("failed to load whisper model", "err", err)
		return 1
	}
	defer transcriber.Close()
	if cfg.Providers.STT.SampleRate != 16000 {
		slog.Warn("whisper.cpp expects 16 kHz mono PCM",
			"configured_sample_rate", cfg.Providers.STT.SampleRate)
	}

	// ── Language models ───────────────────────────────────────────────────────
	mainLLM, err := buildLLM(cfg.Providers.LLM, cfg.Providers.LLM.Model)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}
	fastLLM := mainLLM
	if fm := cfg.Providers.LLM.FastModel; fm != "" && fm != cfg.Providers.LLM.Model {
		fastLLM, err = buildLLM(cfg.Providers.LLM, fm)
		if err != nil {
			slog.Error("failed to create fast llm provider", "err", err)
			return 1
		}
	}

	// ── Text to speech ────────────────────────────────────────────────────────
	synth, err := buildTTS(cfg.TTS, metrics)
	if err != nil {
		slog.Error("failed to create tts client", "err", err)
		return 1
	}
	go synth.PollHealth(ctx)

	// ── Memory ────────────────────────────────────────────────────────────────
	var mem *memory.Service
	if cfg.Memory.PostgresDSN != "" {
		embedder, err := buildEmbedder(cfg.Providers.Embeddings)
		if err != nil {
			slog.Error("failed to create embeddings provider", "err", err)
			return 1
		}
		store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Providers.Embeddings.Dimensions)
		if err != nil {
			slog.Error("failed to connect memory store", "err", err)
			return 1
		}
		defer store.Close()
		mem = memory.NewService(store, embedder,
			memory.WithDecayWeight(cfg.Memory.DecayWeight),
			memory.WithHalfLife(cfg.Memory.HalfLifeHours),
		)
		slog.Info("long-term memory enabled", "dimensions", cfg.Providers.Embeddings.Dimensions)
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	registry := tools.NewRegistry()
	if err := registry.RegisterAll(tools.NewSessionTools()...); err != nil {
		slog.Error("failed to register session tools", "err", err)
		return 1
	}
	if cfg.Tools.SearchURL != "" {
		webTools, err := tools.NewWebTools(tools.WebToolsConfig{SearchURL: cfg.Tools.SearchURL})
		if err != nil {
			slog.Error("failed to create web tools", "err", err)
			return 1
		}
		if err := registry.RegisterAll(webTools...); err != nil {
			slog.Error("failed to register web tools", "err", err)
			return 1
		}
	}
	bridge := tools.NewMCPBridge()
	defer bridge.Close()
	for _, srv := range cfg.Tools.MCPServers {
		if err := bridge.Connect(ctx, srv, registry); err != nil {
			slog.Error("failed to connect mcp server", "server", srv.Name, "err", err)
			return 1
		}
		slog.Info("mcp server connected", "server", srv.Name)
	}
	slog.Info("tool registry ready", "tools", len(registry.Definitions()))

	// ── Prompt context ────────────────────────────────────────────────────────
	prompts := promptctx.NewBuilder(promptctx.WithLogger(logger))
	ctxProviders := []promptctx.Provider{
		&promptctx.TimeProvider{},
		&promptctx.ConversationProvider{},
	}
	if mem != nil {
		ctxProviders = append(ctxProviders, &promptctx.MemoryProvider{
			Searcher: mem,
			Limit:    cfg.Memory.SearchLimit,
		})
	}
	for _, p := range ctxProviders {
		if err := prompts.Register(p); err != nil {
			slog.Error("failed to register context provider", "err", err)
			return 1
		}
	}

	// ── Agent ─────────────────────────────────────────────────────────────────
	executor := tools.NewExecutor(registry, cfg.Tools.CallTimeout)
	executor.Metrics = metrics
	agentCfg := agent.Config{
		LLM:            mainLLM,
		Registry:       registry,
		Executor:       executor,
		Prompts:        prompts,
		PromptTemplate: cfg.Session.SystemPrompt,
		MemoryLimit:    cfg.Memory.SearchLimit,
		Temperature:    cfg.Providers.LLM.Temperature,
		MaxTokens:      cfg.Providers.LLM.MaxTokens,
		Metrics:        metrics,
		Logger:         logger,
	}
	if mem != nil {
		agentCfg.Memory = mem
	}
	ag, err := agent.New(agentCfg)
	if err != nil {
		slog.Error("failed to create agent", "err", err)
		return 1
	}

	// ── Loading audio ─────────────────────────────────────────────────────────
	var loadingWAV []byte
	if cfg.Pipeline.LoadingWAVPath != "" {
		loadingWAV, err = os.ReadFile(cfg.Pipeline.LoadingWAVPath)
		if err != nil {
			slog.Error("failed to read loading audio", "path", cfg.Pipeline.LoadingWAVPath, "err", err)
			return 1
		}
		if _, err := audio.Parse(loadingWAV); err != nil {
			slog.Error("loading audio is not a valid WAV", "path", cfg.Pipeline.LoadingWAVPath, "err", err)
			return 1
		}
	}

	// ── Session factory ───────────────────────────────────────────────────────
	classifier := session.NewWakeWordClassifier(fastLLM, cfg.Session.WakeWord, logger)
	factory := func(connCtx context.Context, sink wire.Sink) *session.Session {
		metrics.ActiveSessions.Add(connCtx, 1)
		go func() {
			<-connCtx.Done()
			metrics.ActiveSessions.Add(context.Background(), -1)
		}()

		pl, err := pipeline.New(pipeline.Config{
			TTS:          synth,
			Tempo:        &audio.TempoFilter{},
			LoadingWAV:   loadingWAV,
			AvgMsPerChar: cfg.Pipeline.AvgMsPerChar,
			MinTempo:     cfg.Pipeline.MinTempo,
			MaxTempo:     cfg.Pipeline.MaxTempo,
			LeadInMs:     cfg.Pipeline.LeadInMs,
			OnFirstAudio: func(d time.Duration) {
				metrics.RecordTTFA(context.Background(), d)
			},
			Metrics: metrics,
			Logger:  logger,
		})
		if err != nil {
			// Cannot happen: the loading WAV was parsed at startup and the
			// synthesizer is non-nil.
			slog.Error("pipeline setup failed", "err", err)
			return nil
		}

		sessCfg := session.Config{
			Transcriber:        transcriber,
			Agent:              ag,
			Pipeline:           pl,
			Sink:               sink,
			Classifier:         classifier,
			Debounce:           cfg.Session.Debounce,
			WakeWord:           cfg.Session.WakeWord,
			DeactivationPhrase: cfg.Session.DeactivationPhrase,
			Greeting:           cfg.Session.Greeting,
			Farewell:           cfg.Session.Farewell,
			Metrics:            metrics,
			Logger:             logger,
		}
		if mem != nil {
			sessCfg.Memory = mem
		}
		return session.New(connCtx, sessCfg)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", server.New(factory, server.WithLogger(logger)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM constructs a chat provider from the configured backend.
//
// "openai" uses the native OpenAI-compatible client, which surfaces
// reasoning_details for replay. Every other name goes through any-llm.
func buildLLM(cfg config.LLMConfig, model string) (llm.Provider, error) {
	if cfg.Name == "openai" {
		var opts []oaillm.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(cfg.BaseURL))
		}
		return oaillm.New(cfg.APIKey, model, opts...)
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Name, model, opts...)
}

// buildEmbedder constructs the embedding provider for memory search.
func buildEmbedder(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Name {
	case "ollama":
		var opts []ollamaembed.Option
		if cfg.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(cfg.Dimensions))
		}
		return ollamaembed.New(cfg.BaseURL, cfg.Model, opts...)
	default:
		var opts []oaembed.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(cfg.Dimensions))
		}
		return oaembed.New(cfg.APIKey, cfg.Model, opts...)
	}
}

// buildTTS loads the configured voice reference and constructs the failover
// synthesis client.
func buildTTS(cfg config.TTSConfig, metrics *observe.Metrics) (*tts.Client, error) {
	voices, err := tts.LoadVoiceDir(cfg.VoiceDir)
	if err != nil {
		return nil, err
	}
	if len(voices) == 0 {
		return nil, fmt.Errorf("no voice references found in %q", cfg.VoiceDir)
	}

	voice := voices[0]
	if cfg.Voice != "" {
		found := false
		for _, v := range voices {
			if v.Name == cfg.Voice {
				voice, found = v, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("voice %q not found in %q", cfg.Voice, cfg.VoiceDir)
		}
	}
	slog.Info("voice loaded", "voice", voice.Name, "voice_id", voice.Hash)

	return tts.NewClient(tts.Config{
		Endpoints:           cfg.Endpoints,
		Voice:               voice,
		Exaggeration:        cfg.Exaggeration,
		CFGWeight:           cfg.CFGWeight,
		HealthTimeout:       cfg.HealthTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		BreakerMaxFailures:  cfg.BreakerMaxFailures,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialDelay:   cfg.RetryInitialDelay,
		HealthPollInterval:  cfg.HealthPollInterval,
		OnBreakerTransition: func(endpoint, state string) {
			metrics.RecordBreakerTransition(context.Background(), endpoint, state)
		},
	})
}
