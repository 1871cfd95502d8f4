// Package identity enforces one-time identity claims: at most one distinct
// user id and one distinct email per installation, with the durable
// key-value store as the source of truth.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/kv"
)

// Kind names the claimed identity.
type Kind string

const (
	// KindUserID is the application user id.
	KindUserID Kind = "user_id"
	// KindEmail is the user's email address.
	KindEmail Kind = "email"
)

// storageKey returns the kv key holding the claim for kind.
func (k Kind) storageKey() string {
	return "identity." + string(k)
}

// Outcome is the result of checking a claim against the stored one.
type Outcome int

const (
	// Valid means nothing is claimed yet; the value may be recorded.
	Valid Outcome = iota + 1
	// AlreadySetSameValue means the same value is already claimed. No-op.
	AlreadySetSameValue
	// NotValid means a different value is already claimed.
	NotValid
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case AlreadySetSameValue:
		return "already_set_same_value"
	case NotValid:
		return "not_valid"
	default:
		return "unknown"
	}
}

// Claim is a persisted identity binding.
type Claim struct {
	Kind      Kind      `json:"kind"`
	Value     string    `json:"value"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// ErrUnknownKind indicates a kind other than KindUserID or KindEmail.
var ErrUnknownKind = errors.New("unknown identity kind")

// Registry answers whether an identity may be claimed and records claims.
// Registry is safe for concurrent use; Claim serializes check-then-record.
type Registry struct {
	store kv.Store
	mu    sync.Mutex
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for ClaimedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store kv.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check compares value against the stored claim without writing.
func (r *Registry) Check(ctx context.Context, kind Kind, value string) (Outcome, error) {
	current, ok, err := r.Current(ctx, kind)
	if err != nil {
		return 0, err
	}
	if !ok {
		return Valid, nil
	}
	if current.Value == strings.TrimSpace(value) {
		return AlreadySetSameValue, nil
	}
	return NotValid, nil
}

// Record persists value as the claim for kind, unconditionally.
// Callers should only record after Check returned Valid; Claim does both.
func (r *Registry) Record(ctx context.Context, kind Kind, value string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	data, err := json.Marshal(Claim{
		Kind:      kind,
		Value:     strings.TrimSpace(value),
		ClaimedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("encode %s claim: %w", kind, err)
	}
	if err := r.store.Set(ctx, kind.storageKey(), string(data)); err != nil {
		return fmt.Errorf("record %s claim: %w", kind, err)
	}
	return nil
}

// Claim checks value and records it when nothing is claimed yet.
// The check and the write run under one lock so concurrent claims cannot
// both observe Valid.
func (r *Registry) Claim(ctx context.Context, kind Kind, value string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome, err := r.Check(ctx, kind, value)
	if err != nil {
		return 0, err
	}
	if outcome == Valid {
		if err := r.Record(ctx, kind, value); err != nil {
			return 0, err
		}
	}
	return outcome, nil
}

// Current returns the stored claim for kind, if any.
func (r *Registry) Current(ctx context.Context, kind Kind) (Claim, bool, error) {
	if err := checkKind(kind); err != nil {
		return Claim{}, false, err
	}
	raw, err := r.store.Get(ctx, kind.storageKey())
	if errors.Is(err, kv.ErrNotFound) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, fmt.Errorf("load %s claim: %w", kind, err)
	}
	var c Claim
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Claim{}, false, fmt.Errorf("decode %s claim: %w", kind, err)
	}
	return c, true, nil
}

// Reset forgets the claim for kind, e.g. on logout.
func (r *Registry) Reset(ctx context.Context, kind Kind) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, kind.storageKey()); err != nil {
		return fmt.Errorf("reset %s claim: %w", kind, err)
	}
	return nil
}

func checkKind(kind Kind) error {
	switch kind {
	case KindUserID, KindEmail:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

var emailValidator = validator.New()

// ValidEmail reports whether s is a syntactically valid email address.
// Surrounding whitespace is ignored.
func ValidEmail(s string) bool {
	return emailValidator.Var(strings.TrimSpace(s), "required,email") == nil
}
