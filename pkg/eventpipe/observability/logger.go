// Package observability provides logging, metrics and tracing for eventpipe.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds operation context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "op-123", "validate")
//	enriched.Info("doing work") // includes op_id and stage_id
func EnrichLogger(logger *slog.Logger, opID, stageID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("op_id", opID),
		slog.String("stage_id", stageID),
	)
}

// LogTrackStart logs the start of a Track call.
func LogTrackStart(logger *slog.Logger, opID string, events int) {
	if logger == nil {
		return
	}
	logger.Debug("track starting",
		slog.String("op_id", opID),
		slog.Int("events", events),
	)
}

// LogTrackComplete logs a completed Track call.
func LogTrackComplete(logger *slog.Logger, opID string, durationMs float64, enqueued, dropped int) {
	if logger == nil {
		return
	}
	logger.Debug("track completed",
		slog.String("op_id", opID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("enqueued", enqueued),
		slog.Int("dropped", dropped),
	)
}

// LogTrackError logs a failed Track call.
func LogTrackError(logger *slog.Logger, opID string, err error, durationMs float64, lastStage string) {
	if logger == nil {
		return
	}
	logger.Error("track failed",
		slog.String("op_id", opID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_stage", lastStage),
	)
}

// LogStageError logs a stage failure.
func LogStageError(logger *slog.Logger, stageID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("stage_id", stageID),
		slog.String("error", err.Error()),
	)
}

// LogDispatch logs a delivered batch.
func LogDispatch(logger *slog.Logger, batchSize, removed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("batch dispatched",
		slog.Int("batch_size", batchSize),
		slog.Int("removed", removed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchError logs a failed delivery. The batch stays queued.
func LogDispatchError(logger *slog.Logger, batchSize int, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("batch dispatch failed",
		slog.Int("batch_size", batchSize),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFlushError logs a background flush that failed outside the submission,
// e.g. a closed or unreadable queue.
func LogFlushError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Warn("background flush failed", slog.String("error", err.Error()))
}

// TimedOperation measures the duration of an operation.
// The returned function reports elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
