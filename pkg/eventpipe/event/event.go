package event

import (
	"time"
)

// Well-known identity-claim event names and their value keys.
const (
	NameSetUserID = "set_user_id"
	NameSetEmail  = "set_email"
	KeyUserID     = "user_id"
	KeyEmail      = "email"
)

// Event is an application-originated named record.
//
// Params is owned by the event. Validation never mutates its input; it
// returns a repaired clone with Issues attached.
type Event struct {
	Name      string
	Params    *Params
	Timestamp time.Time
	Issues    []Issue
}

// New creates an event stamped with the current UTC time.
// A nil params is replaced with an empty set.
func New(name string, params *Params) Event {
	if params == nil {
		params = NewParams()
	}
	return Event{
		Name:      name,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}
}

// SetUserID builds the identity-claim event for a user id.
func SetUserID(userID string) Event {
	p := NewParams()
	p.Set(KeyUserID, String(userID))
	return New(NameSetUserID, p)
}

// SetEmail builds the identity-claim event for an email address.
func SetEmail(email string) Event {
	p := NewParams()
	p.Set(KeyEmail, String(email))
	return New(NameSetEmail, p)
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	c := e
	c.Params = e.Params.Clone()
	if e.Issues != nil {
		c.Issues = make([]Issue, len(e.Issues))
		copy(c.Issues, e.Issues)
	}
	return c
}

// HasIssue reports whether an issue with the given code is attached.
func (e Event) HasIssue(code Code) bool {
	for _, is := range e.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// DispatchEligible reports whether the event has no missing mandatory
// parameters and no type errors. Warnings do not affect eligibility.
func (e Event) DispatchEligible() bool {
	for _, is := range e.Issues {
		if is.Code == CodeUndefinedMandatoryParameter || is.Code.IsTypeError() {
			return false
		}
	}
	return true
}
