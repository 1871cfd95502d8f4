package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	validations     *prometheus.CounterVec
	issues          *prometheus.CounterVec
	enqueued        *prometheus.CounterVec
	dispatchBatches *prometheus.CounterVec
	dispatchEvents  *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	stageExecutions *prometheus.CounterVec
	stageLatency    *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

// Compile-time interface check.
var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered. Registering twice on the same
// registerer panics, as with promauto.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_validations_total",
			Help: "Validated events by name (undeclared names as \"undefined\") and whether the type pass aborted",
		}, []string{"event", "aborted"}),
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_validation_issues_total",
			Help: "Validation issues by code",
		}, []string{"code"}),
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_enqueue_events_total",
			Help: "Events passed to the queue by outcome",
		}, []string{"status"}),
		dispatchBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_dispatch_batches_total",
			Help: "Submitted batches by outcome",
		}, []string{"status"}),
		dispatchEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_dispatch_events_total",
			Help: "Events in submitted batches by outcome",
		}, []string{"status"}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventpipe_dispatch_duration_seconds",
			Help:    "Batch submission latency",
			Buckets: prometheus.DefBuckets,
		}),
		stageExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpipe_stage_executions_total",
			Help: "Chain stage executions by stage and outcome",
		}, []string{"stage", "status"}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventpipe_stage_duration_seconds",
			Help:    "Chain stage latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "eventpipe_queue_depth",
			Help: "Number of queued events",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordValidation implements MetricsRecorder.
func (m *PrometheusMetrics) RecordValidation(_ context.Context, eventName string, issueCodes []string, aborted bool) {
	m.validations.WithLabelValues(eventLabel(eventName, issueCodes), strconv.FormatBool(aborted)).Inc()
	for _, code := range issueCodes {
		m.issues.WithLabelValues(code).Inc()
	}
}

// RecordEnqueue implements MetricsRecorder.
func (m *PrometheusMetrics) RecordEnqueue(_ context.Context, count int, err error) {
	m.enqueued.WithLabelValues(status(err)).Add(float64(count))
}

// RecordDispatch implements MetricsRecorder.
func (m *PrometheusMetrics) RecordDispatch(_ context.Context, batchSize int, duration time.Duration, err error) {
	s := status(err)
	m.dispatchBatches.WithLabelValues(s).Inc()
	m.dispatchEvents.WithLabelValues(s).Add(float64(batchSize))
	m.dispatchLatency.Observe(duration.Seconds())
}

// RecordStage implements MetricsRecorder.
func (m *PrometheusMetrics) RecordStage(_ context.Context, stageID string, duration time.Duration, err error) {
	m.stageExecutions.WithLabelValues(stageID, status(err)).Inc()
	m.stageLatency.WithLabelValues(stageID).Observe(duration.Seconds())
}

// RecordQueueDepth implements MetricsRecorder.
func (m *PrometheusMetrics) RecordQueueDepth(_ context.Context, depth int) {
	m.queueDepth.Set(float64(depth))
}
