package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("eventpipe")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartTrackSpan starts the span covering one Track call.
	StartTrackSpan(ctx context.Context, opID string, events int) (context.Context, trace.Span)

	// StartStageSpan starts a child span for one chain stage.
	StartStageSpan(ctx context.Context, stageID string) (context.Context, trace.Span)

	// StartDispatchSpan starts the span covering one batch submission.
	StartDispatchSpan(ctx context.Context, batchSize int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartTrackSpan(ctx context.Context, opID string, events int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventpipe.track",
		trace.WithAttributes(
			attribute.String("op.id", opID),
			attribute.Int("events", events),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStageSpan(ctx context.Context, stageID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventpipe.stage."+stageID,
		trace.WithAttributes(attribute.String("stage.id", stageID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventpipe.dispatch",
		trace.WithAttributes(attribute.Int("batch.size", batchSize)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
