package eventpipe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context is passed to every stage. It extends context.Context with the
// operation's logger and identifiers.
//
// Context is immutable after creation. The chain derives a context per
// stage with StageID set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the logger, enriched with op_id and stage_id during a run.
	// Never returns nil.
	Logger() *slog.Logger

	// OpID identifies one Track or dispatch operation.
	OpID() string

	// StageID is the stage being executed. Empty outside a stage.
	StageID() string
}

type executionContext struct {
	context.Context

	logger  *slog.Logger
	opID    string
	stageID string
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) OpID() string { return c.opID }
func (c *executionContext) StageID() string { return c.stageID }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOpID sets the operation identifier. A UUID is generated otherwise.
func WithOpID(id string) ContextOption {
	return func(c *executionContext) {
		c.opID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := eventpipe.NewContext(context.Background(),
//	    eventpipe.WithLogger(logger),
//	    eventpipe.WithOpID("op-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		opID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

func (c *executionContext) withStageID(stageID string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  c.logger.With("op_id", c.opID, "stage_id", stageID),
		opID:    c.opID,
		stageID: stageID,
	}
}

// withTracing swaps the embedded context, keeping identifiers and logger.
func (c *executionContext) withTracing(ctx context.Context) *executionContext {
	cp := *c
	cp.Context = ctx
	return &cp
}
