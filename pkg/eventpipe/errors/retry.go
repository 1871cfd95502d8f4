package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Values below one are treated as one.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffFactor multiplies the backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides IsRetryable.
	RetryableFunc func(error) bool
}

// DefaultRetry is the retry policy used when dispatch attempts are raised above one.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes exactly one attempt. Failed batches wait for the next flush.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, returns a non-retryable
// error, runs out of attempts, or ctx is done. A non-nil Err is always a
// *CategorizedError wrapping the last failure.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt, Context: "context cancelled"},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: result, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if !isRetryable(err) {
			return RetryResult[T]{
				Err:      &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt + 1},
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return RetryResult[T]{
					Err:      &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Attempts: attempt + 1, Context: "context cancelled during backoff"},
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-time.After(calculateBackoff(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return RetryResult[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Attempts: attempts,
			Context:  "max attempts exceeded",
		},
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

// Do is WithRetryContext for functions without a result value.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) (attempts int, err error) {
	res := WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return res.Attempts, res.Err
}

// calculateBackoff returns base +/- (base * jitter * random).
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
