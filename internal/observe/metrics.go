// Package observe ties together the OpenTelemetry metrics and traces, the
// trace-aware slog logger and the HTTP middleware of RealTalk.
//
// Instruments live in [Metrics]. Production code uses [DefaultMetrics],
// which reads the global meter provider installed by [InitProvider] and is
// scraped through /metrics. Tests build their own with [NewMetrics] and a
// manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments of one meter provider. Safe for concurrent
// use.
type Metrics struct {
	// Latency, in seconds.
	STTDuration         metric.Float64Histogram
	LLMDuration         metric.Float64Histogram // provider, op
	TTSDuration         metric.Float64Histogram
	EvaluationDuration  metric.Float64Histogram // op, strategy
	HTTPRequestDuration metric.Float64Histogram // method, path, status

	ProviderRequests    metric.Int64Counter // provider, kind, status
	ProviderErrors      metric.Int64Counter // provider, kind
	EvaluationFallbacks metric.Int64Counter // op
	TurnOutcomes        metric.Int64Counter // outcome
	PracticeOutcomes    metric.Int64Counter // outcome
	LLMTokens           metric.Int64Counter // provider, direction
	TTSCharacters       metric.Int64Counter // provider
	CompletedSessions   metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
}

// Provider latency buckets reach 10s: a remote evaluation may include a
// rate-limit backoff.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var errs []error

	histogram := func(dst *metric.Float64Histogram, name, desc string, buckets ...float64) {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		var err error
		*dst, err = meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		var err error
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}

	histogram(&m.STTDuration, "realtalk.stt.duration", "Speech recognition latency.", latencyBuckets...)
	histogram(&m.LLMDuration, "realtalk.llm.duration", "LLM completion latency by provider and operation.", latencyBuckets...)
	histogram(&m.TTSDuration, "realtalk.tts.duration", "Speech synthesis latency.", latencyBuckets...)
	histogram(&m.EvaluationDuration, "realtalk.evaluation.duration", "Evaluator latency by operation and strategy.", latencyBuckets...)
	histogram(&m.HTTPRequestDuration, "realtalk.http.request.duration", "HTTP request latency by method, path and status.")

	counter(&m.ProviderRequests, "realtalk.provider.requests", "Provider calls by provider, kind and status.")
	counter(&m.ProviderErrors, "realtalk.provider.errors", "Provider errors by provider and kind.")
	counter(&m.EvaluationFallbacks, "realtalk.evaluation.fallbacks", "Evaluator calls answered by the local rules.")
	counter(&m.TurnOutcomes, "realtalk.turn.outcomes", "Learner submissions by outcome.")
	counter(&m.PracticeOutcomes, "realtalk.practice.outcomes", "Correction-practice attempts by outcome.")
	counter(&m.LLMTokens, "realtalk.llm.tokens", "LLM tokens by provider and direction.")
	counter(&m.TTSCharacters, "realtalk.tts.characters", "Characters synthesized by provider.")
	counter(&m.CompletedSessions, "realtalk.sessions.completed", "Lessons that reached the closing line.")

	var err error
	m.ActiveSessions, err = meter.Int64UpDownCounter("realtalk.active_sessions", metric.WithDescription("Lessons in progress."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func attrs(kv ...string) metric.MeasurementOption {
	set := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		set = append(set, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(set...)
}

// RecordProviderRequest counts one provider call. status is "ok", "error",
// "transport_error" or an HTTP status code.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, attrs("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, attrs("provider", provider, "kind", kind))
}

// RecordLLMCall records the latency and outcome of one completion.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, op string, d time.Duration, err error) {
	m.LLMDuration.Record(ctx, d.Seconds(), attrs("provider", provider, "op", op))
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, "llm")
	}
	m.RecordProviderRequest(ctx, provider, "llm", status)
}

// RecordEvaluation records one evaluator call. op is "utterance", "session"
// or "grade"; strategy is the answering strategy.
func (m *Metrics) RecordEvaluation(ctx context.Context, op, strategy string, d time.Duration) {
	m.EvaluationDuration.Record(ctx, d.Seconds(), attrs("op", op, "strategy", strategy))
}

// RecordFallback counts an op answered by the local rules.
func (m *Metrics) RecordFallback(ctx context.Context, op string) {
	m.EvaluationFallbacks.Add(ctx, 1, attrs("op", op))
}

func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.TurnOutcomes.Add(ctx, 1, attrs("outcome", outcome))
}

func (m *Metrics) RecordPractice(ctx context.Context, outcome string) {
	m.PracticeOutcomes.Add(ctx, 1, attrs("outcome", outcome))
}

// RecordLLMUsage adds prompt and completion token counts.
func (m *Metrics) RecordLLMUsage(ctx context.Context, provider string, prompt, completion int) {
	m.LLMTokens.Add(ctx, int64(prompt), attrs("provider", provider, "direction", "prompt"))
	m.LLMTokens.Add(ctx, int64(completion), attrs("provider", provider, "direction", "completion"))
}

// RecordTTSCharacters adds the length of a synthesized line.
func (m *Metrics) RecordTTSCharacters(ctx context.Context, provider string, n int) {
	m.TTSCharacters.Add(ctx, int64(n), attrs("provider", provider))
}
