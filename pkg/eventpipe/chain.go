package eventpipe

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/observability"
)

// StageFunc processes an operation in place. Returning ErrStop ends the
// chain without error; any other error halts it.
type StageFunc func(ctx Context, op *Operation) error

type stage struct {
	id string
	fn StageFunc
}

// Chain is a mutable builder for an ordered list of stages.
//
// Chain is NOT thread-safe during building. Call Build() to create an
// immutable CompiledChain that can be safely shared.
//
// Example:
//
//	chain, err := eventpipe.NewChain().
//	    AddStage("validate", validateStage).
//	    AddStage("enqueue", enqueueStage).
//	    Build()
type Chain struct {
	mu     sync.Mutex
	stages []stage
	ids    map[string]struct{}
}

// NewChain creates an empty chain builder.
func NewChain() *Chain {
	return &Chain{ids: make(map[string]struct{})}
}

// AddStage appends a named stage. Stages run in the order they were added.
//
// Panics if:
//   - id is empty
//   - id contains whitespace
//   - fn is nil
//   - id already exists in the chain
func (c *Chain) AddStage(id string, fn StageFunc) *Chain {
	if id == "" {
		panic("eventpipe: stage ID cannot be empty")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("eventpipe: stage ID cannot contain whitespace")
	}
	if fn == nil {
		panic("eventpipe: stage function cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.ids[id]; exists {
		panic(fmt.Sprintf("eventpipe: duplicate stage ID: %s", id))
	}
	c.ids[id] = struct{}{}
	c.stages = append(c.stages, stage{id: id, fn: fn})
	return c
}

// Build creates an immutable CompiledChain.
func (c *Chain) Build() (*CompiledChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stages) == 0 {
		return nil, ErrNoStages
	}
	stages := make([]stage, len(c.stages))
	copy(stages, c.stages)
	return &CompiledChain{stages: stages}, nil
}

// CompiledChain is an immutable, executable chain. Safe for concurrent use.
type CompiledChain struct {
	stages []stage
}

// StageIDs returns the stage IDs in execution order.
func (cc *CompiledChain) StageIDs() []string {
	ids := make([]string, len(cc.stages))
	for i, s := range cc.stages {
		ids[i] = s.id
	}
	return ids
}

// Run executes the stages in order against op.
//
// A stage error halts the chain and is returned as *StageError. A panic is
// recovered into *PanicError. A done context before a stage returns
// *CancellationError.
func (cc *CompiledChain) Run(ctx Context, op *Operation, opts ...RunOption) (runErr error) {
	if ctx == nil {
		return ErrNilContext
	}
	if op == nil {
		return ErrNilOperation
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, s := range cc.stages {
		select {
		case <-ctx.Done():
			return &CancellationError{StageID: s.id, Cause: ctx.Err()}
		default:
		}

		stageCtx, span := cfg.spans.StartStageSpan(ctx, s.id)
		start := time.Now()

		stop, err := cc.executeStage(ctx, stageCtx, s, op)

		cfg.metrics.RecordStage(stageCtx, s.id, time.Since(start), err)
		cfg.spans.EndSpanWithError(span, err)

		if err != nil {
			observability.LogStageError(ctx.Logger(), s.id, err)
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// executeStage runs one stage with panic recovery. stop reports ErrStop.
func (cc *CompiledChain) executeStage(ctx Context, tracingCtx context.Context, s stage, op *Operation) (stop bool, err error) {
	stageCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		stageCtx = ec.withStageID(s.id).withTracing(tracingCtx)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				StageID: s.id,
				Value:   r,
				Stack:   string(debug.Stack()),
			}
		}
	}()

	err = s.fn(stageCtx, op)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrStop):
		return true, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return false, &CancellationError{StageID: s.id, Cause: ctx.Err(), WasExecuting: true}
	default:
		return false, &StageError{StageID: s.id, Err: err}
	}
}
