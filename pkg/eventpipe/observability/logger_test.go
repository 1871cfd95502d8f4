package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestEnrichLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "op", "stage"))

	var buf bytes.Buffer
	EnrichLogger(jsonLogger(&buf), "op-1", "enqueue").Info("x")

	rec := lastRecord(t, &buf)
	assert.Equal(t, "op-1", rec["op_id"])
	assert.Equal(t, "enqueue", rec["stage_id"])
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	LogTrackError(logger, "op-1", errors.New("boom"), 1.5, "enqueue")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "track failed", rec["msg"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "enqueue", rec["last_stage"])

	LogDispatchError(logger, 10, errors.New("HTTP 503"), 2)
	rec = lastRecord(t, &buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, float64(10), rec["batch_size"])

	LogDispatch(logger, 10, 10, 3)
	rec = lastRecord(t, &buf)
	assert.Equal(t, "batch dispatched", rec["msg"])

	LogFlushError(logger, errors.New("queue closed"))
	rec = lastRecord(t, &buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "queue closed", rec["error"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogTrackStart(nil, "op", 1)
		LogTrackComplete(nil, "op", 1, 1, 0)
		LogTrackError(nil, "op", errors.New("x"), 1, "s")
		LogStageError(nil, "s", errors.New("x"))
		LogDispatch(nil, 1, 1, 1)
		LogDispatchError(nil, 1, errors.New("x"), 1)
		LogFlushError(nil, errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), 0.0)
}
