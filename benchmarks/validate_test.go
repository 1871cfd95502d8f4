package benchmarks

import (
	"context"
	"strings"
	"testing"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/identity"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/kv"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/schema"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/validate"
)

func benchSchema() *schema.Store {
	params := map[string]schema.ParameterSpec{
		"amount":   {Type: schema.TypeNumber, Mandatory: true},
		"currency": {Type: schema.TypeString, Mandatory: true},
		"gift":     {Type: schema.TypeBoolean},
		"note":     {Type: schema.TypeString},
	}
	return schema.NewStore(&schema.Snapshot{
		MaxParameters: 8,
		Events: map[string]schema.EventSchema{
			"purchase":          {Parameters: params},
			event.NameSetUserID: {Parameters: map[string]schema.ParameterSpec{event.KeyUserID: {Type: schema.TypeString}}},
		},
	})
}

func benchValidator() *validate.Validator {
	return validate.New(benchSchema(), identity.NewRegistry(kv.NewMemoryStore()))
}

func mustParams(pairs ...any) *event.Params {
	p, err := event.ParamsFromPairs(pairs...)
	if err != nil {
		panic(err)
	}
	return p
}

// BenchmarkValidate_Clean validates an event with no issues.
func BenchmarkValidate_Clean(b *testing.B) {
	v := benchValidator()
	ev := event.New("purchase", mustParams("amount", 9.99, "currency", "EUR", "gift", false))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Validate(ctx, ev)
	}
}

// BenchmarkValidate_Repair validates an event over the parameter limit.
func BenchmarkValidate_Repair(b *testing.B) {
	v := benchValidator()
	pairs := []any{"amount", 1.0, "currency", "EUR"}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		pairs = append(pairs, k, k)
	}
	ev := event.New("purchase", mustParams(pairs...))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Validate(ctx, ev)
	}
}

// BenchmarkValidate_LongValue validates a string at the length ceiling.
func BenchmarkValidate_LongValue(b *testing.B) {
	v := benchValidator()
	note := strings.Repeat("x", validate.LegalParameterLength)
	ev := event.New("purchase", mustParams("amount", 1.0, "currency", "EUR", "note", note))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Validate(ctx, ev)
	}
}

// BenchmarkValidate_UserIDClaim measures the already-claimed path.
func BenchmarkValidate_UserIDClaim(b *testing.B) {
	v := benchValidator()
	ev := event.SetUserID("user-1")
	ctx := context.Background()
	_, _ = v.Validate(ctx, ev)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Validate(ctx, ev)
	}
}
