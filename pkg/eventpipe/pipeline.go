package eventpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/config"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/dispatch"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/identity"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/kv"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/observability"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/queue"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/schema"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/validate"
)

// Stage IDs of the default chain.
const (
	StageValidate = "validate"
	StageEnqueue  = "enqueue"
	StageDispatch = "dispatch"
)

// Operation is the value every stage of the chain works on.
type Operation struct {
	// Events are the inbound events, in submission order.
	Events []event.Event

	// Results holds one validation result per event, set by the validate stage.
	Results []validate.Result

	// Enqueued and Dropped count events after the enqueue stage.
	Enqueued int
	Dropped  int

	// DispatchNow asks the dispatch stage to flush after enqueueing.
	DispatchNow bool

	// Dispatch and DispatchErr are set when the dispatch stage ran.
	// A dispatch failure does not fail the operation; the events stay queued.
	Dispatch    *dispatch.Result
	DispatchErr error

	// claims holds identity claims until the enqueue commits.
	claims *validate.Batch
	// release drops the ingestion lock taken by the validate stage.
	release func()
}

func (op *Operation) releaseIngest() {
	if op.release != nil {
		op.release()
	}
}

// Outcome summarizes one Track call.
type Outcome struct {
	OpID        string
	Results     []validate.Result
	Enqueued    int
	Dropped     int
	Dispatch    *dispatch.Result
	DispatchErr error
}

// Options configures a Pipeline. Only one of Schemas or Settings.SchemaPath
// is required, and one of Client or an endpoint URL; everything else has a
// default derived from Settings.
type Options struct {
	// Settings defaults to config.DefaultSettings().
	Settings *config.Settings

	// Schemas is the schema store. Loaded from Settings.SchemaPath when nil.
	Schemas *schema.Store

	// Queue defaults to a SQLite queue at Settings.QueuePath, or a memory
	// queue for ":memory:".
	Queue queue.Queue

	// Store backs the identity registry. Defaults like Queue, using
	// Settings.StorePath.
	Store kv.Store

	// Client defaults to an HTTP client posting to Endpoint.
	Client dispatch.Client

	// Endpoint defaults to Settings.Endpoint and Settings.Headers.
	Endpoint dispatch.Endpoint

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager

	// ValidatorOptions are passed to validate.New.
	ValidatorOptions []validate.Option
}

// Pipeline wires validation, identity claims, the queue and the dispatcher
// behind a stage chain. Safe for concurrent use.
type Pipeline struct {
	settings   config.Settings
	schemas    *schema.Store
	queue      queue.Queue
	store      kv.Store
	registry   *identity.Registry
	validator  *validate.Validator
	dispatcher *dispatch.Dispatcher
	chain      *CompiledChain

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	// ingest is held from validation until the enqueue commits, so identity
	// claims are checked and recorded atomically with storing their events.
	ingest sync.Mutex

	mu        sync.Mutex
	closed    bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
	closers   []func() error
}

// New builds a pipeline. On error, anything New opened is closed again.
func New(opts Options) (_ *Pipeline, err error) {
	settings := config.DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	p := &Pipeline{
		settings: settings,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		spans:    opts.Spans,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observability.NoopMetrics{}
	}
	if p.spans == nil {
		p.spans = observability.NoopSpanManager{}
	}
	defer func() {
		if err != nil {
			_ = p.closeResources()
		}
	}()

	if err := p.initSchemas(opts.Schemas); err != nil {
		return nil, err
	}
	if err := p.initStorage(opts.Queue, opts.Store); err != nil {
		return nil, err
	}

	client, endpoint := opts.Client, opts.Endpoint
	if endpoint.URL == "" {
		endpoint.URL = settings.Endpoint
	}
	if endpoint.Headers == nil {
		endpoint.Headers = settings.Headers
	}
	if client == nil {
		if endpoint.URL == "" {
			return nil, ErrNoEndpoint
		}
		client = dispatch.NewHTTPClient(settings.HTTPTimeout)
	}

	p.registry = identity.NewRegistry(p.store)
	vopts := append([]validate.Option{validate.WithLogger(p.logger)}, opts.ValidatorOptions...)
	p.validator = validate.New(p.schemas, p.registry, vopts...)
	p.dispatcher = dispatch.New(p.queue, client, endpoint,
		dispatch.WithBatchSize(settings.BatchSize),
		dispatch.WithRetry(settings.Retry()),
		dispatch.WithLogger(p.logger),
		dispatch.WithMetrics(p.metrics),
		dispatch.WithSpanManager(p.spans),
	)

	p.chain, err = NewChain().
		AddStage(StageValidate, p.validateStage).
		AddStage(StageEnqueue, p.enqueueStage).
		AddStage(StageDispatch, p.dispatchStage).
		Build()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) initSchemas(store *schema.Store) error {
	if store != nil {
		p.schemas = store
		return nil
	}
	if p.settings.SchemaPath == "" {
		return ErrNoSchema
	}
	snap, err := schema.FromFile(p.settings.SchemaPath)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	p.schemas = schema.NewStore(snap)
	if p.settings.WatchSchema {
		stop, err := schema.Watch(p.schemas, p.settings.SchemaPath, p.logger)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, func() error { stop(); return nil })
	}
	return nil
}

func (p *Pipeline) initStorage(q queue.Queue, store kv.Store) error {
	if q == nil {
		var err error
		if q, err = openQueue(p.settings); err != nil {
			return err
		}
		p.closers = append(p.closers, q.Close)
	}
	p.queue = q

	if store == nil {
		var err error
		if store, err = openStore(p.settings); err != nil {
			return err
		}
		p.closers = append(p.closers, store.Close)
	}
	p.store = store
	return nil
}

func openQueue(s config.Settings) (queue.Queue, error) {
	if s.QueuePath == config.MemoryPath {
		return queue.NewMemoryQueue(queue.WithMaxSize(s.MaxQueueSize)), nil
	}
	q, err := queue.NewSQLiteQueue(s.QueuePath, queue.WithMaxSize(s.MaxQueueSize))
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return q, nil
}

func openStore(s config.Settings) (kv.Store, error) {
	if s.StorePath == config.MemoryPath {
		return kv.NewMemoryStore(), nil
	}
	store, err := kv.NewSQLiteStore(s.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	return store, nil
}

// Track runs events through the chain: validate, enqueue, and dispatch when
// Settings.FlushOnTrack is set. The error is non-nil only when a stage
// failed; validation issues are reported in Outcome.Results.
func (p *Pipeline) Track(ctx context.Context, events ...event.Event) (Outcome, error) {
	return p.track(ctx, p.settings.FlushOnTrack, events)
}

// TrackNow is Track followed by an immediate dispatch.
func (p *Pipeline) TrackNow(ctx context.Context, events ...event.Event) (Outcome, error) {
	return p.track(ctx, true, events)
}

// SetUserID tracks the set-user-id event for id.
func (p *Pipeline) SetUserID(ctx context.Context, id string) (Outcome, error) {
	return p.Track(ctx, event.SetUserID(id))
}

// SetEmail tracks the set-email event for email.
func (p *Pipeline) SetEmail(ctx context.Context, email string) (Outcome, error) {
	return p.Track(ctx, event.SetEmail(email))
}

func (p *Pipeline) track(ctx context.Context, dispatchNow bool, events []event.Event) (out Outcome, err error) {
	if p.isClosed() {
		return Outcome{}, ErrPipelineClosed
	}
	if len(events) == 0 {
		return Outcome{}, nil
	}

	opID := uuid.NewString()
	done := observability.TimedOperation()
	observability.LogTrackStart(p.logger, opID, len(events))

	spanCtx, span := p.spans.StartTrackSpan(ctx, opID, len(events))
	defer func() { p.spans.EndSpanWithError(span, err) }()

	op := &Operation{Events: events, DispatchNow: dispatchNow}
	execCtx := NewContext(spanCtx, WithLogger(p.logger), WithOpID(opID))
	err = p.chain.Run(execCtx, op, WithMetrics(p.metrics), WithSpans(p.spans))
	op.releaseIngest()

	out = Outcome{
		OpID:        opID,
		Results:     op.Results,
		Enqueued:    op.Enqueued,
		Dropped:     op.Dropped,
		Dispatch:    op.Dispatch,
		DispatchErr: op.DispatchErr,
	}
	if err != nil {
		observability.LogTrackError(p.logger, opID, err, done(), lastStage(err))
		return out, err
	}
	observability.LogTrackComplete(p.logger, opID, done(), op.Enqueued, op.Dropped)
	return out, nil
}

func lastStage(err error) string {
	var stageErr *StageError
	var panicErr *PanicError
	var cancelErr *CancellationError
	switch {
	case errors.As(err, &stageErr):
		return stageErr.StageID
	case errors.As(err, &panicErr):
		return panicErr.StageID
	case errors.As(err, &cancelErr):
		return cancelErr.StageID
	}
	return ""
}

// DispatchNow flushes one batch immediately. A flush already in flight
// makes this a no-op with Result.Coalesced set.
func (p *Pipeline) DispatchNow(ctx context.Context) (dispatch.Result, error) {
	if p.isClosed() {
		return dispatch.Result{}, ErrPipelineClosed
	}
	return p.dispatcher.Flush(ctx)
}

// Flush dispatches until the queue is empty or a submission fails.
func (p *Pipeline) Flush(ctx context.Context) (dispatch.Result, error) {
	if p.isClosed() {
		return dispatch.Result{}, ErrPipelineClosed
	}
	return p.dispatcher.FlushAll(ctx)
}

// Pending returns the number of queued events.
func (p *Pipeline) Pending(ctx context.Context) (int, error) {
	return p.queue.Count(ctx)
}

// Identity returns the current claim of kind, if any.
func (p *Pipeline) Identity(ctx context.Context, kind identity.Kind) (identity.Claim, bool, error) {
	return p.registry.Current(ctx, kind)
}

// ResetIdentity clears both identity claims, e.g. on logout.
func (p *Pipeline) ResetIdentity(ctx context.Context) error {
	p.ingest.Lock()
	defer p.ingest.Unlock()

	if err := p.registry.Reset(ctx, identity.KindUserID); err != nil {
		return err
	}
	return p.registry.Reset(ctx, identity.KindEmail)
}

// Start runs the periodic dispatch loop in the background until ctx is
// done or Close is called. Once the loop has stopped because ctx ended,
// Start may be called again.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if p.cancelRun != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancelRun = cancel
	p.runDone = done

	go func() {
		defer close(done)
		_ = p.dispatcher.Run(runCtx, p.settings.FlushInterval)
		cancel()

		p.mu.Lock()
		if p.runDone == done {
			p.cancelRun = nil
			p.runDone = nil
		}
		p.mu.Unlock()
	}()
	return nil
}

// Close stops the dispatch loop (which flushes once more), stops the schema
// watcher and closes the queue and store if the pipeline opened them.
// Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancelRun, p.runDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return p.closeResources()
}

func (p *Pipeline) closeResources() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
