// Package event defines the analytics event model: named events carrying an
// insertion-ordered set of scalar parameters, and the validation issues
// attached to them on their way through the pipeline.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind is the runtime tag of a Value.
type Kind int

const (
	// KindString tags a string value.
	KindString Kind = iota + 1
	// KindNumber tags a numeric value. All numbers are float64.
	KindNumber
	// KindBool tags a boolean value.
	KindBool
)

// String returns the schema type tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// ErrUnsupportedValue indicates a dynamic value that is not a string, number or bool.
var ErrUnsupportedValue = errors.New("unsupported parameter value")

// Value is a closed union over string, number and bool.
// The zero Value is invalid; build values with String, Number, Bool or FromAny.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric value. NaN and infinities have no JSON form;
// the result is not IsValid and FromAny rejects them.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// FromAny converts a dynamic Go value into a Value.
//
// Accepts:
//   - string
//   - bool
//   - every signed/unsigned integer width, float32, float64
//   - json.Number
//
// Anything else (nil, maps, slices, structs) and non-finite numbers return
// ErrUnsupportedValue.
func FromAny(v any) (Value, error) {
	val, err := fromAny(v)
	if err != nil {
		return Value{}, err
	}
	if !val.IsValid() {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, val.Text())
	}
	return val, nil
}

func fromAny(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int8:
		return Number(float64(val)), nil
	case int16:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case uint:
		return Number(float64(val)), nil
	case uint8:
		return Number(float64(val)), nil
	case uint16:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value was constructed and can be serialized.
func (v Value) IsValid() bool {
	switch v.kind {
	case KindString, KindBool:
		return true
	case KindNumber:
		return !math.IsNaN(v.n) && !math.IsInf(v.n, 0)
	default:
		return false
	}
}

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the numeric payload and whether the value is a number.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Boolean returns the boolean payload and whether the value is a bool.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Any returns the payload as a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Text returns the serialized form used for length checks.
// Numbers use the shortest decimal representation without exponent.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsValid() {
		return nil, ErrUnsupportedValue
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
