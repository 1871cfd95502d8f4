package eventpipe

import (
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/observability"
)

// runConfig holds configuration for chain execution.
type runConfig struct {
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

func defaultRunConfig() runConfig {
	return runConfig{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// RunOption configures chain execution.
type RunOption func(*runConfig)

// WithMetrics records per-stage metrics.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans creates a child span per stage.
func WithSpans(s observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if s != nil {
			c.spans = s
		}
	}
}
