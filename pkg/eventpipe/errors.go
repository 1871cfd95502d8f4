package eventpipe

import (
	"errors"
	"fmt"
)

// Sentinel errors for chain building and execution.
var (
	// ErrNoStages indicates Build() was called on an empty chain.
	ErrNoStages = errors.New("chain has no stages")

	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilOperation indicates Run() was called with a nil operation.
	ErrNilOperation = errors.New("operation cannot be nil")

	// ErrStop ends a chain early without error. Stages return it when there
	// is nothing left for later stages to do.
	ErrStop = errors.New("stop chain")
)

// Sentinel errors for the pipeline.
var (
	// ErrNoSchema indicates neither a schema store nor a schema path was given.
	ErrNoSchema = errors.New("schema store or schema_path required")

	// ErrNoEndpoint indicates neither a client nor an endpoint URL was given.
	ErrNoEndpoint = errors.New("dispatch client or endpoint required")

	// ErrPipelineClosed indicates the pipeline has been closed.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// StageError wraps an error returned by a stage.
type StageError struct {
	// StageID is the stage that failed.
	StageID string
	// Err is the underlying error from the stage.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.StageID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic recovered from a stage.
type PanicError struct {
	StageID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.StageID, e.Value)
}

// CancellationError reports that the context was done before or during a stage.
type CancellationError struct {
	// StageID is the stage that was about to run or was running.
	StageID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasExecuting is true if cancellation was observed by the stage itself.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during stage %s: %v", e.StageID, e.Cause)
	}
	return fmt.Sprintf("cancelled before stage %s: %v", e.StageID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}
