// Package queue provides the durable holding area for validated events
// awaiting dispatch.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
)

// Queue is an ordered collection of serialized events.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue appends events in order. The call is atomic: either all
	// events are appended or none are. No deduplication happens here.
	Enqueue(ctx context.Context, events []QueuedEvent) error

	// PeekFirst returns the oldest min(limit, Count) events without
	// removing them.
	PeekFirst(ctx context.Context, limit int) ([]QueuedEvent, error)

	// Remove deletes every queued entry whose content equals any of
	// events, including duplicates, and returns how many were removed.
	Remove(ctx context.Context, events []QueuedEvent) (int, error)

	// Count returns the number of queued events.
	Count(ctx context.Context) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for queue operations.
var (
	// ErrClosed indicates the queue has been closed.
	ErrClosed = errors.New("queue closed")

	// ErrFull indicates an enqueue would exceed the configured MaxSize.
	ErrFull = errors.New("queue full")
)

// Record is the wire form of one queued event.
type Record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Timestamp time.Time     `json:"timestamp"`
	Context   *event.Params `json:"context"`
	Issues    []event.Issue `json:"issues,omitempty"`
}

// QueuedEvent is a serialized Record. It is never mutated after creation
// and two QueuedEvents are equal when their bytes are equal.
type QueuedEvent struct {
	payload []byte
}

// NewQueuedEvent serializes ev under a fresh identifier.
func NewQueuedEvent(ev event.Event) (QueuedEvent, error) {
	params := ev.Params
	if params == nil {
		params = event.NewParams()
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		ID:        uuid.NewString(),
		Name:      ev.Name,
		Timestamp: ts.UTC(),
		Context:   params,
		Issues:    ev.Issues,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return QueuedEvent{}, fmt.Errorf("serialize event %s: %w", ev.Name, err)
	}
	return QueuedEvent{payload: data}, nil
}

// FromBytes wraps stored bytes. The slice is copied.
func FromBytes(b []byte) QueuedEvent {
	return QueuedEvent{payload: bytes.Clone(b)}
}

// Bytes returns the serialized record. Callers must not modify it.
func (q QueuedEvent) Bytes() []byte {
	return q.payload
}

// Equal reports content equality.
func (q QueuedEvent) Equal(o QueuedEvent) bool {
	return bytes.Equal(q.payload, o.payload)
}

// Record decodes the serialized record.
func (q QueuedEvent) Record() (Record, error) {
	var rec Record
	if err := json.Unmarshal(q.payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode queued event: %w", err)
	}
	return rec, nil
}

// MarshalJSON emits the stored bytes verbatim.
func (q QueuedEvent) MarshalJSON() ([]byte, error) {
	if len(q.payload) == 0 {
		return []byte("null"), nil
	}
	return q.payload, nil
}

// Option configures a queue implementation.
type Option func(*options)

type options struct {
	maxSize int
}

// WithMaxSize caps the number of queued events. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// contentSet indexes events by content for Remove.
func contentSet(events []QueuedEvent) map[string]struct{} {
	set := make(map[string]struct{}, len(events))
	for _, e := range events {
		set[string(e.payload)] = struct{}{}
	}
	return set
}
