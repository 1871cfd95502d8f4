package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordValidation(context.Context, string, []string, bool) {}
func (NoopMetrics) RecordEnqueue(context.Context, int, error) {}
func (NoopMetrics) RecordDispatch(context.Context, int, time.Duration, error) {}
func (NoopMetrics) RecordStage(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordQueueDepth(context.Context, int) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartTrackSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTrackSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStageSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStageSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartDispatchSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDispatchSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
