package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Params is an insertion-ordered map of parameter name to Value.
// Keys are unique; setting an existing key replaces its value in place.
//
// Params is not safe for concurrent mutation.
type Params struct {
	keys   []string
	values map[string]Value
}

// NewParams creates an empty Params.
func NewParams() *Params {
	return &Params{values: make(map[string]Value)}
}

// ParamsFromPairs builds Params from alternating key/value arguments,
// converting values with FromAny.
//
// Example:
//
//	p, err := event.ParamsFromPairs("screen", "home", "count", 3)
func ParamsFromPairs(kv ...any) (*Params, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("odd number of key/value arguments: %d", len(kv))
	}
	p := NewParams()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("argument %d: key must be a string, got %T", i, kv[i])
		}
		v, err := FromAny(kv[i+1])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		p.Set(key, v)
	}
	return p, nil
}

// Set adds or replaces a parameter.
func (p *Params) Set(key string, v Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get returns the value for key.
func (p *Params) Get(key string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Delete removes key, preserving the order of the remaining entries.
func (p *Params) Delete(key string) {
	if p == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the parameter names in insertion order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (p *Params) Range(fn func(key string, v Value) bool) {
	if p == nil {
		return
	}
	for _, k := range p.keys {
		if !fn(k, p.values[k]) {
			return
		}
	}
}

// Truncate keeps the first n entries and drops the rest.
// Returns the dropped keys in insertion order.
func (p *Params) Truncate(n int) []string {
	if p == nil || n < 0 || n >= len(p.keys) {
		return nil
	}
	dropped := make([]string, len(p.keys)-n)
	copy(dropped, p.keys[n:])
	for _, k := range dropped {
		delete(p.values, k)
	}
	p.keys = p.keys[:n:n]
	return dropped
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	c := NewParams()
	if p == nil {
		return c
	}
	c.keys = make([]string, len(p.keys))
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON encodes the parameters as a JSON object in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("params: expected object, got %v", tok)
	}

	fresh := NewParams()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected string key, got %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("params: key %q: %w", key, err)
		}
		v, err := FromAny(raw)
		if err != nil {
			return fmt.Errorf("params: key %q: %w", key, err)
		}
		fresh.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = *fresh
	return nil
}
