package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteQueue persists queued events to SQLite so they survive restarts.
// FIFO order is the insertion sequence.
type SQLiteQueue struct {
	db      *sql.DB
	mu      sync.RWMutex
	maxSize int
	closed  bool
}

// NewSQLiteQueue opens (or creates) a queue database.
// The path should be a file path (e.g., "./queue.db") or ":memory:" for testing.
func NewSQLiteQueue(path string, opts ...Option) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queued_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL,
			enqueued_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_queued_events_payload
		ON queued_events(payload)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	o := applyOptions(opts)
	return &SQLiteQueue{db: db, maxSize: o.maxSize}, nil
}

// Enqueue implements Queue.
func (s *SQLiteQueue) Enqueue(ctx context.Context, events []QueuedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	if s.maxSize > 0 {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_events`).Scan(&n); err != nil {
			return fmt.Errorf("count queue: %w", err)
		}
		if n+len(events) > s.maxSize {
			return ErrFull
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queued_events (payload, enqueued_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare enqueue: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.payload, now); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// PeekFirst implements Queue.
func (s *SQLiteQueue) PeekFirst(ctx context.Context, limit int) ([]QueuedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []QueuedEvent{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM queued_events
		ORDER BY seq
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	defer rows.Close()

	out := make([]QueuedEvent, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan queued event: %w", err)
		}
		out = append(out, QueuedEvent{payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

// Remove implements Queue.
func (s *SQLiteQueue) Remove(ctx context.Context, events []QueuedEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for payload := range contentSet(events) {
		res, err := tx.ExecContext(ctx, `DELETE FROM queued_events WHERE payload = ?`, []byte(payload))
		if err != nil {
			return 0, fmt.Errorf("remove events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("remove events: %w", err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit remove: %w", err)
	}
	return int(removed), nil
}

// Count implements Queue.
func (s *SQLiteQueue) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Close implements Queue.
func (s *SQLiteQueue) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
