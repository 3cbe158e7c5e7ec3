package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/llmgate/llm"
)

// Recorder exports per-attempt and per-completion telemetry for router calls.
type Recorder struct {
	attemptTotal       metric.Int64Counter
	attemptDuration    metric.Float64Histogram
	completionTotal    metric.Int64Counter
	promptTokens       metric.Int64Counter
	completionTokens   metric.Int64Counter
	generationDuration metric.Float64Histogram
}

// NewRecorder creates the call instruments on the given meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	attemptTotal, err := meter.Int64Counter("llm.attempt.total",
		metric.WithDescription("Total provider attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.attempt.total counter: %w", err)
	}

	attemptDuration, err := meter.Float64Histogram("llm.attempt.duration",
		metric.WithDescription("Duration of provider attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.attempt.duration histogram: %w", err)
	}

	completionTotal, err := meter.Int64Counter("llm.completion.total",
		metric.WithDescription("Total completions served by provider"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.completion.total counter: %w", err)
	}

	promptTokens, err := meter.Int64Counter("llm.tokens.prompt",
		metric.WithDescription("Prompt tokens consumed by provider"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.tokens.prompt counter: %w", err)
	}

	completionTokens, err := meter.Int64Counter("llm.tokens.completion",
		metric.WithDescription("Completion tokens generated by provider"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.tokens.completion counter: %w", err)
	}

	generationDuration, err := meter.Float64Histogram("llm.generation.duration",
		metric.WithDescription("Backend-reported generation time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.generation.duration histogram: %w", err)
	}

	return &Recorder{
		attemptTotal:       attemptTotal,
		attemptDuration:    attemptDuration,
		completionTotal:    completionTotal,
		promptTokens:       promptTokens,
		completionTokens:   completionTokens,
		generationDuration: generationDuration,
	}, nil
}

// RecordAttempt records one provider attempt.
func (r *Recorder) RecordAttempt(ctx context.Context, rec llm.AttemptRecord) {
	attrs := metric.WithAttributes(
		attribute.String("provider", rec.Provider),
		attribute.String("outcome", string(rec.Outcome)),
		attribute.String("error_kind", string(rec.ErrorKind)),
	)
	r.attemptTotal.Add(ctx, 1, attrs)
	r.attemptDuration.Record(ctx, rec.Latency.Seconds(), metric.WithAttributes(
		attribute.String("provider", rec.Provider),
		attribute.String("outcome", string(rec.Outcome)),
	))
}

// RecordCompletion records a served completion and its token usage.
func (r *Recorder) RecordCompletion(ctx context.Context, provider string, usage llm.Usage, meta *llm.GenerationMetadata) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	r.completionTotal.Add(ctx, 1, attrs)
	if usage.PromptTokens > 0 {
		r.promptTokens.Add(ctx, int64(usage.PromptTokens), attrs)
	}
	if usage.CompletionTokens > 0 {
		r.completionTokens.Add(ctx, int64(usage.CompletionTokens), attrs)
	}
	if meta != nil && meta.EvalDuration > 0 {
		r.generationDuration.Record(ctx, meta.EvalDuration.Seconds(), attrs)
	}
}
