// Package dispatch moves batches from a queue to the collection endpoint
// with at-least-once delivery.
//
// A batch is removed from the queue only after the endpoint accepts it,
// and removal is by content, so events enqueued while the batch was in
// flight are never touched. A failed submission leaves the queue as it
// was; the next flush retries from the head.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	eperrors "github.com/randalmurphal/eventpipe/pkg/eventpipe/errors"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/observability"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/queue"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 50

// ErrInvalidInterval is returned by Run for a non-positive interval.
var ErrInvalidInterval = errors.New("dispatch interval must be positive")

// Error describes a failed flush step. The queue is unchanged when Op is
// "count", "peek" or "submit".
type Error struct {
	Op    string
	Batch int
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s (batch of %d): %v", e.Op, e.Batch, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Result describes one flush.
type Result struct {
	// Batch is the number of events submitted.
	Batch int

	// Removed is the number of queue entries removed after acceptance.
	Removed int

	// Attempts is the number of submit calls made.
	Attempts int

	// Coalesced is true when another flush was already in flight and this
	// call did nothing.
	Coalesced bool
}

// Dispatcher flushes a queue to an endpoint. Safe for concurrent use.
type Dispatcher struct {
	queue    queue.Queue
	client   Client
	endpoint Endpoint

	batchSize int
	retry     eperrors.RetryConfig
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	inflight sync.Mutex
	trigger  chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchSize sets the maximum number of events per submission.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithRetry sets the retry policy wrapped around each submission.
// The default makes a single attempt.
func WithRetry(cfg eperrors.RetryConfig) Option {
	return func(d *Dispatcher) {
		d.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.spans = s
		}
	}
}

// New creates a dispatcher.
func New(q queue.Queue, client Client, ep Endpoint, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     q,
		client:    client,
		endpoint:  ep,
		batchSize: DefaultBatchSize,
		retry:     eperrors.NoRetry,
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Flush submits one batch from the head of the queue. If another flush is
// in flight it returns immediately with Result.Coalesced set.
func (d *Dispatcher) Flush(ctx context.Context) (Result, error) {
	if !d.inflight.TryLock() {
		return Result{Coalesced: true}, nil
	}
	defer d.inflight.Unlock()
	return d.flushOnce(ctx)
}

// FlushAll flushes batches until the queue is empty, a flush fails, or a
// batch removes nothing. The returned Result sums all batches.
func (d *Dispatcher) FlushAll(ctx context.Context) (Result, error) {
	if !d.inflight.TryLock() {
		return Result{Coalesced: true}, nil
	}
	defer d.inflight.Unlock()

	var total Result
	for {
		res, err := d.flushOnce(ctx)
		total.Batch += res.Batch
		total.Removed += res.Removed
		total.Attempts += res.Attempts
		if err != nil {
			return total, err
		}
		if res.Batch == 0 || res.Removed == 0 {
			return total, nil
		}
	}
}

// Trigger asks a running Run loop to flush now. It never blocks; triggers
// arriving while one is pending are merged.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run flushes every interval and on Trigger until ctx is done, then
// flushes one last time without the cancelled context.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.runFlush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			d.runFlush(ctx)
		case <-d.trigger:
			d.runFlush(ctx)
		}
	}
}

// runFlush drains the queue for Run. Submit failures are already logged by
// flushOnce; queue failures are logged here.
func (d *Dispatcher) runFlush(ctx context.Context) {
	_, err := d.FlushAll(ctx)
	var flushErr *Error
	if errors.As(err, &flushErr) && flushErr.Op == "submit" {
		return
	}
	if err != nil {
		observability.LogFlushError(d.logger, err)
	}
}

func (d *Dispatcher) flushOnce(ctx context.Context) (Result, error) {
	count, err := d.queue.Count(ctx)
	if err != nil {
		return Result{}, &Error{Op: "count", Err: err}
	}
	n := min(d.batchSize, count)
	if n == 0 {
		return Result{}, nil
	}

	batch, err := d.queue.PeekFirst(ctx, n)
	if err != nil {
		return Result{}, &Error{Op: "peek", Batch: n, Err: err}
	}
	if len(batch) == 0 {
		return Result{}, nil
	}
	res := Result{Batch: len(batch)}
	payload := EncodeBatch(batch)

	spanCtx, span := d.spans.StartDispatchSpan(ctx, len(batch))
	done := observability.TimedOperation()
	start := time.Now()

	attempts, err := eperrors.Do(spanCtx, d.retry, func(ctx context.Context) error {
		return d.client.Submit(ctx, d.endpoint, payload)
	})
	res.Attempts = attempts
	d.metrics.RecordDispatch(ctx, len(batch), time.Since(start), err)
	if err != nil {
		d.spans.EndSpanWithError(span, err)
		observability.LogDispatchError(d.logger, len(batch), err, done())
		return res, &Error{Op: "submit", Batch: len(batch), Err: err}
	}

	removed, err := d.queue.Remove(ctx, batch)
	d.spans.EndSpanWithError(span, err)
	if err != nil {
		return res, &Error{Op: "remove", Batch: len(batch), Err: err}
	}
	res.Removed = removed
	observability.LogDispatch(d.logger, len(batch), removed, done())

	if depth, err := d.queue.Count(ctx); err == nil {
		d.metrics.RecordQueueDepth(ctx, depth)
	}
	return res, nil
}

// EncodeBatch builds the wire payload: a JSON array of the stored records,
// byte for byte.
func EncodeBatch(batch []queue.QueuedEvent) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(e.Bytes())
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
