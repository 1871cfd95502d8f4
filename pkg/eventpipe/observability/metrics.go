package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel, NewPrometheusMetrics for Prometheus,
// or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordValidation records one validated event and the codes of its issues.
	RecordValidation(ctx context.Context, eventName string, issueCodes []string, aborted bool)

	// RecordEnqueue records an enqueue of count events.
	RecordEnqueue(ctx context.Context, count int, err error)

	// RecordDispatch records one submitted batch.
	RecordDispatch(ctx context.Context, batchSize int, duration time.Duration, err error)

	// RecordStage records a chain stage execution.
	RecordStage(ctx context.Context, stageID string, duration time.Duration, err error)

	// RecordQueueDepth records the current number of queued events.
	RecordQueueDepth(ctx context.Context, depth int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	validations     metric.Int64Counter
	issues          metric.Int64Counter
	enqueued        metric.Int64Counter
	enqueueErrors   metric.Int64Counter
	dispatchBatches metric.Int64Counter
	dispatchEvents  metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	queueDepth      metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the OTel instruments on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventpipe")
	m := &otelMetrics{}
	var err error

	if m.validations, err = meter.Int64Counter("eventpipe.validations",
		metric.WithDescription("Number of validated events"),
	); err != nil {
		return nil, err
	}
	if m.issues, err = meter.Int64Counter("eventpipe.validation.issues",
		metric.WithDescription("Number of validation issues by code"),
	); err != nil {
		return nil, err
	}
	if m.enqueued, err = meter.Int64Counter("eventpipe.queue.enqueued",
		metric.WithDescription("Number of events enqueued"),
	); err != nil {
		return nil, err
	}
	if m.enqueueErrors, err = meter.Int64Counter("eventpipe.queue.enqueue_errors",
		metric.WithDescription("Number of failed enqueue calls"),
	); err != nil {
		return nil, err
	}
	if m.dispatchBatches, err = meter.Int64Counter("eventpipe.dispatch.batches",
		metric.WithDescription("Number of submitted batches"),
	); err != nil {
		return nil, err
	}
	if m.dispatchEvents, err = meter.Int64Counter("eventpipe.dispatch.events",
		metric.WithDescription("Number of events in submitted batches"),
	); err != nil {
		return nil, err
	}
	if m.dispatchLatency, err = meter.Float64Histogram("eventpipe.dispatch.latency_ms",
		metric.WithDescription("Batch submission latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageExecutions, err = meter.Int64Counter("eventpipe.stage.executions",
		metric.WithDescription("Number of stage executions"),
	); err != nil {
		return nil, err
	}
	if m.stageLatency, err = meter.Float64Histogram("eventpipe.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageErrors, err = meter.Int64Counter("eventpipe.stage.errors",
		metric.WithDescription("Number of stage execution errors"),
	); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64Gauge("eventpipe.queue.depth",
		metric.WithDescription("Number of queued events"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// UndefinedEventLabel stands in for event names the schema does not declare,
// which would otherwise give the event label unbounded values.
const UndefinedEventLabel = "undefined"

func eventLabel(eventName string, issueCodes []string) string {
	for _, code := range issueCodes {
		if code == string(event.CodeUndefinedName) {
			return UndefinedEventLabel
		}
	}
	return eventName
}

func (m *otelMetrics) RecordValidation(ctx context.Context, eventName string, issueCodes []string, aborted bool) {
	m.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventLabel(eventName, issueCodes)),
		attribute.Bool("aborted", aborted),
	))
	for _, code := range issueCodes {
		m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

func (m *otelMetrics) RecordEnqueue(ctx context.Context, count int, err error) {
	if err != nil {
		m.enqueueErrors.Add(ctx, 1)
		return
	}
	m.enqueued.Add(ctx, int64(count))
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, batchSize int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.dispatchBatches.Add(ctx, 1, attrs)
	m.dispatchEvents.Add(ctx, int64(batchSize), attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordStage(ctx context.Context, stageID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage_id", stageID))
	m.stageExecutions.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}
