// Package kv provides the durable key-value storage the identity registry
// persists its claims in.
package kv

import (
	"context"
	"errors"
)

// Store persists string values by string key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key has no value.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("kv store closed")
)
