package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 408", &HTTPError{StatusCode: 408}, CategoryTransient},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 503", &HTTPError{StatusCode: 503}, CategoryTransient},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryPermanent},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryPermanent},
		{"timeout", &TimeoutError{Operation: "submit", Duration: time.Second}, CategoryTransient},
		{"transport", &TransportError{Endpoint: "x", Err: errors.New("reset")}, CategoryTransient},
		{"wrapped transport", fmt.Errorf("submit: %w", &TransportError{Err: errors.New("eof")}), CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"categorized", Transient(errors.New("x"), ""), CategoryTransient},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	base := errors.New("failed")
	err := Permanent(base, "submit")
	if got, want := err.Error(), "submit: failed (category: permanent, attempts: 0)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Error("expected Unwrap to expose the base error")
	}

	noCtx := &CategorizedError{Err: base, Category: CategoryTransient, Attempts: 2}
	if got, want := noCtx.Error(), "failed (category: transient, attempts: 2)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&HTTPError{StatusCode: 500, Message: "boom", Endpoint: "http://c"}, "HTTP 500 at http://c: boom"},
		{&HTTPError{StatusCode: 404, Message: "gone"}, "HTTP 404: gone"},
		{&TimeoutError{Operation: "submit", Duration: 2 * time.Second}, "timeout after 2s: submit"},
		{&TransportError{Endpoint: "http://c", Err: errors.New("refused")}, "transport error at http://c: refused"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestWithRetryContext_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	res := WithRetryContext(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{StatusCode: 503}
		}
		return "ok", nil
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "ok" || res.Attempts != 3 {
		t.Errorf("got value %q after %d attempts", res.Value, res.Attempts)
	}
}

func TestWithRetryContext_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	res := WithRetryContext(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 400}
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var catErr *CategorizedError
	if !errors.As(res.Err, &catErr) || catErr.Category != CategoryPermanent {
		t.Errorf("expected permanent CategorizedError, got %v", res.Err)
	}
	var httpErr *HTTPError
	if !errors.As(res.Err, &httpErr) {
		t.Error("expected HTTPError in chain")
	}
}

func TestWithRetryContext_ExhaustsAttempts(t *testing.T) {
	calls := 0
	res := WithRetryContext(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, &TransportError{Err: errors.New("reset")}
	})

	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, res.Attempts)
	}
	if !IsRetryable(res.Err) {
		t.Error("exhausted transient failure should stay transient")
	}
}

func TestWithRetryContext_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestWithRetryContext_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Do(ctx, fastRetry(3), func(context.Context) error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWithRetryContext_CustomRetryable(t *testing.T) {
	calls := 0
	cfg := NewRetryConfig(
		WithMaxAttempts(2),
		WithInitialBackoff(time.Millisecond),
		WithJitter(0),
	)
	cfg.RetryableFunc = func(error) bool { return true }
	_, _ = Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	if got := calculateBackoff(base, 0); got != base {
		t.Errorf("no jitter: got %v", got)
	}
	for i := 0; i < 50; i++ {
		got := calculateBackoff(base, 0.5)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("backoff %v outside jitter range", got)
		}
	}
}
