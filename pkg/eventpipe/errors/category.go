// Package errors classifies delivery failures and retries the transient ones.
//
// Two categories exist. Transient failures (rate limits, gateway errors,
// timeouts, dropped connections) may succeed on a later attempt. Permanent
// failures (bad endpoint, rejected payload, auth) will not, and the batch
// stays queued until the next scheduled flush.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a retry will likely help.
	CategoryTransient Category = iota

	// CategoryPermanent indicates a retry won't help.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and attempt count.
type CategorizedError struct {
	Err      error
	Category Category

	// Attempts is the number of attempts that were made.
	Attempts int

	// Context describes what was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)", e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as transient.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as permanent.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
// Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Caller cancellation is never worth retrying.
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return CategoryTransient
		default:
			if httpErr.StatusCode >= 500 {
				return CategoryTransient
			}
			return CategoryPermanent
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
