// Package observe provides Edda's observability primitives: OpenTelemetry
// metric instruments with a Prometheus exporter bridge, so the standard
// /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Edda metrics.
const meterName = "github.com/edda-voice/edda"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency per stream.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// TimeToFirstAudio tracks the gap between end of user speech and the
	// first audio_sentence of the reply, the latency users actually feel.
	TimeToFirstAudio metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Utterances counts transcribed user utterances.
	Utterances metric.Int64Counter

	// BreakerTransitions counts TTS circuit-breaker state changes. Use with
	// attributes:
	//   attribute.String("endpoint", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// ProviderErrors counts upstream provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConversations tracks sessions currently in an activated
	// conversation.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		if err != nil {
			return nil
		}
		var g metric.Int64UpDownCounter
		g, err = m.Int64UpDownCounter(name, metric.WithDescription(desc))
		return g
	}

	met.STTDuration = histogram("edda.stt.duration", "Latency of speech-to-text transcription.")
	met.LLMDuration = histogram("edda.llm.duration", "Latency of one LLM completion stream.")
	met.TTSDuration = histogram("edda.tts.duration", "Latency of text-to-speech synthesis per sentence.")
	met.TimeToFirstAudio = histogram("edda.response.time_to_first_audio", "Delay between end of user speech and first reply audio.")
	met.ToolExecutionDuration = histogram("edda.tool.duration", "Latency of tool execution.")

	met.ToolCalls = counter("edda.tool.calls", "Total tool invocations by tool name and status.")
	met.Utterances = counter("edda.utterances", "Total transcribed user utterances.")
	met.BreakerTransitions = counter("edda.tts.breaker_transitions", "TTS circuit-breaker state changes by endpoint and state.")
	met.ProviderErrors = counter("edda.provider.errors", "Total upstream provider errors by provider and kind.")

	met.ActiveSessions = gauge("edda.active_sessions", "Number of live voice sessions.")
	met.ActiveConversations = gauge("edda.active_conversations", "Number of sessions with an activated conversation.")

	if err != nil {
		return nil, err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTTFA records one time-to-first-audio sample.
func (m *Metrics) RecordTTFA(ctx context.Context, d time.Duration) {
	m.TimeToFirstAudio.Record(ctx, d.Seconds())
}

// RecordToolCall records a tool call with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBreakerTransition records a TTS circuit-breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("state", state),
		),
	)
}

// RecordProviderError records an upstream provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
