package queue

import (
	"context"
	"sync"
)

// MemoryQueue holds events in memory. Contents do not survive the process;
// use it for tests and ephemeral pipelines.
type MemoryQueue struct {
	mu      sync.RWMutex
	items   []QueuedEvent
	maxSize int
	closed  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	o := applyOptions(opts)
	return &MemoryQueue{maxSize: o.maxSize}
}

// Enqueue implements Queue.
func (m *MemoryQueue) Enqueue(_ context.Context, events []QueuedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.maxSize > 0 && len(m.items)+len(events) > m.maxSize {
		return ErrFull
	}
	m.items = append(m.items, events...)
	return nil
}

// PeekFirst implements Queue.
func (m *MemoryQueue) PeekFirst(_ context.Context, limit int) ([]QueuedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	n := min(max(limit, 0), len(m.items))
	out := make([]QueuedEvent, n)
	copy(out, m.items[:n])
	return out, nil
}

// Remove implements Queue.
func (m *MemoryQueue) Remove(_ context.Context, events []QueuedEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	set := contentSet(events)
	kept := m.items[:0]
	for _, it := range m.items {
		if _, drop := set[string(it.payload)]; !drop {
			kept = append(kept, it)
		}
	}
	removed := len(m.items) - len(kept)
	clear(m.items[len(kept):])
	m.items = kept
	return removed, nil
}

// Count implements Queue.
func (m *MemoryQueue) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return len(m.items), nil
}

// Close implements Queue.
func (m *MemoryQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.items = nil
	return nil
}
