// Package schema holds the event schema delivered by configuration: which
// event names exist, which parameters each declares, their types and
// whether they are mandatory, plus tenant-level limits.
//
// A Snapshot is immutable. Reconfiguration replaces it wholesale through
// Store.Swap, so readers never observe a half-applied schema.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Known parameter type tags.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// IsKnownType reports whether t is one of the supported type tags.
func IsKnownType(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean:
		return true
	default:
		return false
	}
}

// ParameterSpec declares one parameter of an event.
// Type is kept verbatim so unknown tags surface at validation time.
type ParameterSpec struct {
	Type      string `json:"type" yaml:"type"`
	Mandatory bool   `json:"mandatory" yaml:"mandatory"`
}

// EventSchema declares the parameters of one event name.
type EventSchema struct {
	Parameters map[string]ParameterSpec `json:"parameters" yaml:"parameters"`
}

// Parameter returns the spec for key.
func (s EventSchema) Parameter(key string) (ParameterSpec, bool) {
	p, ok := s.Parameters[key]
	return p, ok
}

// MandatoryKeys returns the mandatory parameter names, sorted.
func (s EventSchema) MandatoryKeys() []string {
	var keys []string
	for k, p := range s.Parameters {
		if p.Mandatory {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is one immutable configuration of the schema.
type Snapshot struct {
	// MaxParameters is the per-tenant ceiling on parameters per event.
	// Zero disables the check.
	MaxParameters int `json:"max_parameters" yaml:"max_parameters"`

	// Events maps event name to its schema.
	Events map[string]EventSchema `json:"events" yaml:"events"`
}

// Lookup returns the schema for an event name.
func (s *Snapshot) Lookup(name string) (EventSchema, bool) {
	if s == nil {
		return EventSchema{}, false
	}
	es, ok := s.Events[name]
	return es, ok
}

// Names returns all declared event names, sorted.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Events))
	for n := range s.Events {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check reports structural problems in the snapshot: a negative limit, empty
// event or parameter names. Unknown type tags are deliberately not rejected
// here; the validator reports them per event as unsupportedType.
func (s *Snapshot) Check() error {
	var errs []string
	if s.MaxParameters < 0 {
		errs = append(errs, fmt.Sprintf("max_parameters must not be negative, got %d", s.MaxParameters))
	}
	for _, name := range s.Names() {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "event name must not be empty")
			continue
		}
		for key := range s.Events[name].Parameters {
			if strings.TrimSpace(key) == "" {
				errs = append(errs, fmt.Sprintf("event %s: parameter name must not be empty", name))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("schema validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Store holds the current Snapshot and allows atomic replacement.
// Store is safe for concurrent use.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store holding snap. A nil snap is replaced by an empty snapshot.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.Swap(snap)
	return s
}

// Snapshot returns the current snapshot. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Swap replaces the current snapshot and returns the previous one.
func (s *Store) Swap(snap *Snapshot) *Snapshot {
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.Events == nil {
		snap.Events = make(map[string]EventSchema)
	}
	return s.current.Swap(snap)
}
