// Package validate checks events against the current schema snapshot,
// repairs what can be repaired, and performs identity claims for the
// set-user-id and set-email events.
//
// Rules run in a fixed order and collect issues rather than fail. The
// exception is the per-parameter type pass: the first unsupported type,
// type mismatch or over-long value stops evaluation for that event. Issues
// collected before the stop are kept. Either way the (possibly repaired)
// event is returned; issues never stop the event from flowing on.
//
// Validate writes identity claims immediately. A Batch holds them until
// Commit, so a caller can store the events first and claim only what was
// stored.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/identity"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/schema"
)

// ErrClaimConflict indicates an identity was claimed between a batch's
// Validate and Commit.
var ErrClaimConflict = errors.New("identity claimed concurrently")

// Fixed length ceilings, in characters.
const (
	LegalParameterLength = 4000
	LegalUserIDLength    = 200
)

// Result is the outcome of validating one event.
type Result struct {
	// Event is a repaired copy of the input with Issues attached.
	Event event.Event

	// Issues lists every finding in rule order. Same as Event.Issues.
	Issues []event.Issue

	// Aborted is true when the type pass stopped early.
	Aborted bool

	// Claims lists identity claims this event would establish. Set only by
	// Batch.Validate; they take effect on Batch.Commit.
	Claims []PendingClaim
}

// PendingClaim is an identity claim held back until its event is stored.
type PendingClaim struct {
	Kind  identity.Kind
	Value string
}

// Validator applies the rule set. It is safe for concurrent use, but
// identity claims made from concurrent Validate calls are only serialized
// by the registry itself; the pipeline routes all validation through a
// single ingestion lock.
type Validator struct {
	schemas  *schema.Store
	registry *identity.Registry
	logger   *slog.Logger

	userIDEvent string
	userIDKey   string
	emailEvent  string
	emailKey    string
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for debug output of issues.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithUserIDEvent overrides the set-user-id event name and value key.
func WithUserIDEvent(name, key string) Option {
	return func(v *Validator) {
		v.userIDEvent = name
		v.userIDKey = key
	}
}

// WithEmailEvent overrides the set-email event name and value key.
func WithEmailEvent(name, key string) Option {
	return func(v *Validator) {
		v.emailEvent = name
		v.emailKey = key
	}
}

// New creates a validator reading schemas from store.
// A nil registry disables identity claims (the length and format checks still run).
func New(store *schema.Store, registry *identity.Registry, opts ...Option) *Validator {
	v := &Validator{
		schemas:     store,
		registry:    registry,
		userIDEvent: event.NameSetUserID,
		userIDKey:   event.KeyUserID,
		emailEvent:  event.NameSetEmail,
		emailKey:    event.KeyEmail,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// pass accumulates the state of one Validate call.
type pass struct {
	ev      event.Event
	es      schema.EventSchema
	issues  []event.Issue
	aborted bool

	// batch defers claims; nil claims directly against the registry.
	batch  *Batch
	claims []PendingClaim
}

func (p *pass) add(is event.Issue) {
	p.issues = append(p.issues, is)
}

// Validate runs the rule set against a copy of ev.
// The error is non-nil only when the identity registry's storage fails;
// the partial Result is still returned in that case.
func (v *Validator) Validate(ctx context.Context, ev event.Event) (Result, error) {
	return v.validate(ctx, ev, nil)
}

func (v *Validator) validate(ctx context.Context, ev event.Event, b *Batch) (Result, error) {
	p := &pass{ev: ev.Clone(), batch: b}
	p.ev.Issues = nil
	snap := v.schemas.Snapshot()

	err := v.run(ctx, p, snap)

	p.ev.Issues = p.issues
	res := Result{Event: p.ev, Issues: p.issues, Aborted: p.aborted, Claims: p.claims}
	v.log(res)
	return res, err
}

// Batch validates a group of events whose identity claims are only written
// by Commit. Claims made earlier in the batch count against later events.
// A Batch is not safe for concurrent use; callers serialize batches so that
// nothing claims between Validate and Commit.
type Batch struct {
	v       *Validator
	pending map[identity.Kind]string
}

// NewBatch starts a batch.
func (v *Validator) NewBatch() *Batch {
	return &Batch{v: v, pending: make(map[identity.Kind]string)}
}

// Validate is Validator.Validate with claims held in Result.Claims.
func (b *Batch) Validate(ctx context.Context, ev event.Event) (Result, error) {
	return b.v.validate(ctx, ev, b)
}

// Commit records the pending claims of results. Pass only the results whose
// events were stored.
func (b *Batch) Commit(ctx context.Context, results ...Result) error {
	if b.v.registry == nil {
		return nil
	}
	for _, res := range results {
		for _, c := range res.Claims {
			outcome, err := b.v.registry.Claim(ctx, c.Kind, c.Value)
			if err != nil {
				return err
			}
			if outcome == identity.NotValid {
				return fmt.Errorf("%w: %s claimed concurrently", ErrClaimConflict, c.Kind)
			}
		}
	}
	return nil
}

// check compares value against the batch's own claims, then the registry.
func (b *Batch) check(ctx context.Context, p *pass, kind identity.Kind, value string) (identity.Outcome, error) {
	if held, ok := b.pending[kind]; ok {
		if held == value {
			return identity.AlreadySetSameValue, nil
		}
		return identity.NotValid, nil
	}
	outcome, err := b.v.registry.Check(ctx, kind, value)
	if err != nil {
		return 0, err
	}
	if outcome == identity.Valid {
		b.pending[kind] = value
		p.claims = append(p.claims, PendingClaim{Kind: kind, Value: value})
	}
	return outcome, nil
}

func (v *Validator) claim(ctx context.Context, p *pass, kind identity.Kind, value string) (identity.Outcome, error) {
	if p.batch != nil {
		return p.batch.check(ctx, p, kind, value)
	}
	return v.registry.Claim(ctx, kind, value)
}

func (v *Validator) run(ctx context.Context, p *pass, snap *schema.Snapshot) error {
	es, ok := snap.Lookup(p.ev.Name)
	if !ok {
		p.add(event.NewIssue(event.CodeUndefinedName, "", "event %q is not defined in the schema", p.ev.Name))
		return nil
	}
	p.es = es

	checkParameterCount(p, snap.MaxParameters)
	checkMandatory(p)
	if err := v.checkIdentity(ctx, p); err != nil {
		return err
	}
	checkUndeclared(p)
	checkTypes(p)
	return nil
}

// checkParameterCount truncates the parameter set to limit, dropping the
// most recently inserted entries.
func checkParameterCount(p *pass, limit int) {
	actual := p.ev.Params.Len()
	if limit <= 0 || actual <= limit {
		return
	}
	dropped := p.ev.Params.Truncate(limit)
	is := event.NewIssue(event.CodeLimitOfParameters, "",
		"event has %d parameters, limit is %d; dropped %s",
		actual, limit, strings.Join(dropped, ", "))
	is.Actual = actual
	is.Limit = limit
	p.add(is)
}

func checkMandatory(p *pass) {
	for _, key := range p.es.MandatoryKeys() {
		if !p.ev.Params.Has(key) {
			p.add(event.NewIssue(event.CodeUndefinedMandatoryParameter, key,
				"mandatory parameter %q is missing", key))
		}
	}
}

func (v *Validator) checkIdentity(ctx context.Context, p *pass) error {
	switch p.ev.Name {
	case v.userIDEvent:
		return v.checkUserID(ctx, p)
	case v.emailEvent:
		return v.checkEmail(ctx, p)
	}
	return nil
}

func (v *Validator) checkUserID(ctx context.Context, p *pass) error {
	value, ok := stringParam(p.ev.Params, v.userIDKey)
	if !ok {
		return nil
	}
	trimmed := strings.TrimSpace(value)
	if n := utf8.RuneCountInString(trimmed); n > LegalUserIDLength {
		is := event.NewIssue(event.CodeTooLongUserID, v.userIDKey,
			"user id is %d characters, limit is %d", n, LegalUserIDLength)
		is.Actual = n
		is.Limit = LegalUserIDLength
		p.add(is)
		return nil
	}
	if v.registry == nil {
		return nil
	}
	outcome, err := v.claim(ctx, p, identity.KindUserID, trimmed)
	if err != nil {
		return err
	}
	if outcome == identity.NotValid {
		p.add(event.NewIssue(event.CodeInvalidUserID, v.userIDKey,
			"a different user id is already set"))
	}
	return nil
}

func (v *Validator) checkEmail(ctx context.Context, p *pass) error {
	value, ok := stringParam(p.ev.Params, v.emailKey)
	if !ok {
		return nil
	}
	trimmed := strings.TrimSpace(value)
	if !identity.ValidEmail(trimmed) {
		p.add(event.NewIssue(event.CodeInvalidEmail, v.emailKey, "%q is not a valid email address", trimmed))
		return nil
	}
	if v.registry == nil {
		return nil
	}
	outcome, err := v.claim(ctx, p, identity.KindEmail, trimmed)
	if err != nil {
		return err
	}
	if outcome == identity.NotValid {
		p.add(event.NewIssue(event.CodeInvalidEmail, v.emailKey,
			"a different email is already set"))
	}
	return nil
}

// checkUndeclared flags every parameter the schema does not declare.
func checkUndeclared(p *pass) {
	p.ev.Params.Range(func(key string, _ event.Value) bool {
		if _, ok := p.es.Parameter(key); !ok {
			p.add(event.NewIssue(event.CodeUndefinedParameter, key,
				"parameter %q is not declared and will not be tracked", key))
		}
		return true
	})
}

// checkTypes verifies declared parameters in insertion order and stops at
// the first failure.
func checkTypes(p *pass) {
	p.ev.Params.Range(func(key string, val event.Value) bool {
		spec, ok := p.es.Parameter(key)
		if !ok {
			return true
		}
		if !schema.IsKnownType(spec.Type) {
			p.add(event.NewIssue(event.CodeUnsupportedType, key,
				"parameter %q declares unsupported type %q", key, spec.Type))
			p.aborted = true
			return false
		}
		if val.Kind().String() != spec.Type {
			p.add(event.NewIssue(event.CodeWrongType, key,
				"parameter %q must be %s, got %s", key, spec.Type, val.Kind()))
			p.aborted = true
			return false
		}
		if val.Kind() == event.KindString || val.Kind() == event.KindNumber {
			if n := utf8.RuneCountInString(val.Text()); n > LegalParameterLength {
				is := event.NewIssue(event.CodeLimitOfCharacters, key,
					"parameter %q is %d characters, limit is %d", key, n, LegalParameterLength)
				is.Actual = n
				is.Limit = LegalParameterLength
				p.add(is)
				p.aborted = true
				return false
			}
		}
		return true
	})
}

func stringParam(params *event.Params, key string) (string, bool) {
	v, ok := params.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}

func (v *Validator) log(res Result) {
	if v.logger == nil || len(res.Issues) == 0 {
		return
	}
	for _, is := range res.Issues {
		v.logger.Debug("validation issue",
			slog.String("event", res.Event.Name),
			slog.String("code", string(is.Code)),
			slog.String("severity", string(is.Severity)),
			slog.String("key", is.Key),
			slog.String("message", is.Message),
		)
	}
}
