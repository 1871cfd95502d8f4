package validate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/identity"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/kv"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/schema"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		MaxParameters: 4,
		Events: map[string]schema.EventSchema{
			"purchase": {Parameters: map[string]schema.ParameterSpec{
				"amount":   {Type: schema.TypeNumber, Mandatory: true},
				"currency": {Type: schema.TypeString, Mandatory: true},
				"gift":     {Type: schema.TypeBoolean},
				"note":     {Type: schema.TypeString},
				"when":     {Type: "date"},
			}},
			event.NameSetUserID: {Parameters: map[string]schema.ParameterSpec{
				event.KeyUserID: {Type: schema.TypeString, Mandatory: true},
			}},
			event.NameSetEmail: {Parameters: map[string]schema.ParameterSpec{
				event.KeyEmail: {Type: schema.TypeString, Mandatory: true},
			}},
		},
	}
}

func newValidator(t *testing.T) (*validate.Validator, *identity.Registry) {
	t.Helper()
	reg := identity.NewRegistry(kv.NewMemoryStore())
	return validate.New(schema.NewStore(testSnapshot()), reg), reg
}

func mustEvent(t *testing.T, name string, pairs ...any) event.Event {
	t.Helper()
	p, err := event.ParamsFromPairs(pairs...)
	require.NoError(t, err)
	return event.New(name, p)
}

func codes(issues []event.Issue) []event.Code {
	out := make([]event.Code, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Code)
	}
	return out
}

func TestValidate_CleanEvent(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase", "amount", 9.99, "currency", "EUR"))
	require.NoError(t, err)

	assert.Empty(t, res.Issues)
	assert.False(t, res.Aborted)
	assert.True(t, res.Event.DispatchEligible())
}

func TestValidate_UndefinedNameStopsEarly(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "mystery", "a", 1, "b", 2, "c", 3, "d", 4, "e", 5))
	require.NoError(t, err)

	assert.Equal(t, []event.Code{event.CodeUndefinedName}, codes(res.Issues))
	assert.Equal(t, 5, res.Event.Params.Len(), "no repair for schema-less events")
}

func TestValidate_ParameterLimitRepair(t *testing.T) {
	v, _ := newValidator(t)

	in := mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "gift", false, "note", "x", "extra1", 1, "extra2", 2)
	res, err := v.Validate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "currency", "gift", "note"}, res.Event.Params.Keys())
	require.NotEmpty(t, res.Issues)
	is := res.Issues[0]
	assert.Equal(t, event.CodeLimitOfParameters, is.Code)
	assert.Equal(t, event.SeverityWarning, is.Severity)
	assert.Equal(t, 6, is.Actual)
	assert.Equal(t, 4, is.Limit)

	assert.Equal(t, 6, in.Params.Len(), "input event is not mutated")
}

func TestValidate_ParameterLimitDisabled(t *testing.T) {
	snap := testSnapshot()
	snap.MaxParameters = 0
	v := validate.New(schema.NewStore(snap), nil)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "gift", false, "note", "x", "extra", 1))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Event.Params.Len())
	assert.NotContains(t, codes(res.Issues), event.CodeLimitOfParameters)
}

func TestValidate_MandatoryParameters(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase", "gift", true))
	require.NoError(t, err)

	require.Len(t, res.Issues, 2)
	assert.Equal(t, event.CodeUndefinedMandatoryParameter, res.Issues[0].Code)
	assert.Equal(t, "amount", res.Issues[0].Key)
	assert.Equal(t, event.CodeUndefinedMandatoryParameter, res.Issues[1].Code)
	assert.Equal(t, "currency", res.Issues[1].Key)
	assert.False(t, res.Event.DispatchEligible())
}

func TestValidate_MandatoryCheckIgnoresOtherParameters(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase", "currency", "EUR", "note", "hi", "unknown", 1))
	require.NoError(t, err)

	var missing []string
	for _, is := range res.Issues {
		if is.Code == event.CodeUndefinedMandatoryParameter {
			missing = append(missing, is.Key)
		}
	}
	assert.Equal(t, []string{"amount"}, missing)
}

func TestValidate_UndeclaredParameterWarning(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase", "amount", 1, "currency", "EUR", "campaign", "spring"))
	require.NoError(t, err)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, event.CodeUndefinedParameter, res.Issues[0].Code)
	assert.Equal(t, "campaign", res.Issues[0].Key)
	assert.True(t, res.Event.DispatchEligible())
	assert.True(t, res.Event.Params.Has("campaign"), "undeclared parameters are kept")
}

func TestValidate_WrongTypeAborts(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase",
		"amount", "ten", "currency", 5))
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, []event.Code{event.CodeWrongType}, codes(res.Issues))
	assert.Equal(t, "amount", res.Issues[0].Key)
}

func TestValidate_HardStopKeepsEarlierIssues(t *testing.T) {
	v, _ := newValidator(t)

	// The mismatched key comes first in insertion order; the undeclared
	// key after it is still reported.
	res, err := v.Validate(context.Background(), mustEvent(t, "purchase",
		"amount", "ten", "currency", "EUR", "untracked", 1))
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, []event.Code{event.CodeUndefinedParameter, event.CodeWrongType}, codes(res.Issues))
}

func TestValidate_AbortedEventStillReturned(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "when", "2026-01-01"))
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, []event.Code{event.CodeUnsupportedType}, codes(res.Issues))
	assert.Equal(t, "purchase", res.Event.Name)
	assert.Equal(t, 3, res.Event.Params.Len())
	assert.Equal(t, res.Issues, res.Event.Issues)
}

func TestValidate_LengthCeiling(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	res, err := v.Validate(ctx, mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "note", strings.Repeat("x", validate.LegalParameterLength)))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	res, err = v.Validate(ctx, mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "note", strings.Repeat("x", validate.LegalParameterLength+1)))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, event.CodeLimitOfCharacters, res.Issues[0].Code)
	assert.Equal(t, validate.LegalParameterLength, res.Issues[0].Limit)
	assert.True(t, res.Aborted)
}

func TestValidate_LengthCountsCharactersNotBytes(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.Validate(context.Background(), mustEvent(t, "purchase",
		"amount", 1, "currency", "EUR", "note", strings.Repeat("é", validate.LegalParameterLength)))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
}

func TestValidate_UserIDClaims(t *testing.T) {
	v, reg := newValidator(t)
	ctx := context.Background()

	res, err := v.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	res, err = v.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues, "repeating the same id is a no-op")

	res, err = v.Validate(ctx, event.SetUserID("B"))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeInvalidUserID}, codes(res.Issues))
	assert.True(t, res.Event.DispatchEligible(), "identity conflicts do not block dispatch")

	c, ok, err := reg.Current(ctx, identity.KindUserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", c.Value)
}

func TestValidate_UserIDLengthCeiling(t *testing.T) {
	v, reg := newValidator(t)
	ctx := context.Background()

	res, err := v.Validate(ctx, event.SetUserID("  "+strings.Repeat("u", validate.LegalUserIDLength)+"  "))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	require.NoError(t, reg.Reset(ctx, identity.KindUserID))

	res, err = v.Validate(ctx, event.SetUserID(strings.Repeat("u", validate.LegalUserIDLength+1)))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeTooLongUserID}, codes(res.Issues))

	_, ok, err := reg.Current(ctx, identity.KindUserID)
	require.NoError(t, err)
	assert.False(t, ok, "too-long ids never reach the registry")
}

func TestValidate_EmailClaims(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	res, err := v.Validate(ctx, event.SetEmail("not-an-email"))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeInvalidEmail}, codes(res.Issues))

	res, err = v.Validate(ctx, event.SetEmail("a@example.com"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	res, err = v.Validate(ctx, event.SetEmail("a@example.com"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	res, err = v.Validate(ctx, event.SetEmail("b@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeInvalidEmail}, codes(res.Issues))
}

func TestValidate_CustomIdentityEventNames(t *testing.T) {
	snap := &schema.Snapshot{Events: map[string]schema.EventSchema{
		"identify": {Parameters: map[string]schema.ParameterSpec{"uid": {Type: schema.TypeString}}},
	}}
	reg := identity.NewRegistry(kv.NewMemoryStore())
	v := validate.New(schema.NewStore(snap), reg, validate.WithUserIDEvent("identify", "uid"))
	ctx := context.Background()

	_, err := v.Validate(ctx, mustEvent(t, "identify", "uid", "X"))
	require.NoError(t, err)

	res, err := v.Validate(ctx, mustEvent(t, "identify", "uid", "Y"))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeInvalidUserID}, codes(res.Issues))
}

func TestValidate_RegistryFailureIsReturned(t *testing.T) {
	store := kv.NewMemoryStore()
	require.NoError(t, store.Close())
	v := validate.New(schema.NewStore(testSnapshot()), identity.NewRegistry(store))

	res, err := v.Validate(context.Background(), event.SetUserID("A"))
	require.Error(t, err)
	assert.Equal(t, event.NameSetUserID, res.Event.Name)
}

func TestValidate_SchemaSwapTakesEffect(t *testing.T) {
	store := schema.NewStore(testSnapshot())
	v := validate.New(store, nil)
	ctx := context.Background()

	res, err := v.Validate(ctx, mustEvent(t, "signup"))
	require.NoError(t, err)
	assert.Equal(t, []event.Code{event.CodeUndefinedName}, codes(res.Issues))

	store.Swap(&schema.Snapshot{Events: map[string]schema.EventSchema{"signup": {}}})

	res, err = v.Validate(ctx, mustEvent(t, "signup"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
}

func TestBatch_ClaimsWaitForCommit(t *testing.T) {
	v, reg := newValidator(t)
	ctx := context.Background()
	b := v.NewBatch()

	res, err := b.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.Equal(t, []validate.PendingClaim{{Kind: identity.KindUserID, Value: "A"}}, res.Claims)

	_, ok, err := reg.Current(ctx, identity.KindUserID)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is recorded before commit")

	require.NoError(t, b.Commit(ctx, res))

	c, ok, err := reg.Current(ctx, identity.KindUserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", c.Value)
}

func TestBatch_ConflictWithinBatch(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()
	b := v.NewBatch()

	first, err := b.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)
	same, err := b.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)
	other, err := b.Validate(ctx, event.SetUserID("B"))
	require.NoError(t, err)

	assert.Empty(t, same.Issues)
	assert.Empty(t, same.Claims)
	assert.Equal(t, []event.Code{event.CodeInvalidUserID}, codes(other.Issues))
	assert.Empty(t, other.Claims)
	require.NoError(t, b.Commit(ctx, first, same, other))
}

func TestBatch_UncommittedClaimIsForgotten(t *testing.T) {
	v, reg := newValidator(t)
	ctx := context.Background()

	_, err := v.NewBatch().Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)

	res, err := v.NewBatch().Validate(ctx, event.SetUserID("B"))
	require.NoError(t, err)
	assert.Empty(t, res.Issues, "an abandoned batch leaves no claim behind")

	_, ok, err := reg.Current(ctx, identity.KindUserID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatch_CommitDetectsConcurrentClaim(t *testing.T) {
	v, reg := newValidator(t)
	ctx := context.Background()
	b := v.NewBatch()

	res, err := b.Validate(ctx, event.SetUserID("A"))
	require.NoError(t, err)

	_, err = reg.Claim(ctx, identity.KindUserID, "Z")
	require.NoError(t, err)

	err = b.Commit(ctx, res)
	require.ErrorIs(t, err, validate.ErrClaimConflict)
}
