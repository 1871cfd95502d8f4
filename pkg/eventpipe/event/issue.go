package event

import "fmt"

// Severity classifies an Issue.
type Severity string

const (
	// SeverityWarning marks advisory issues. The event stays dispatch-eligible.
	SeverityWarning Severity = "warning"
	// SeverityError marks rule violations.
	SeverityError Severity = "error"
)

// Code identifies the rule that produced an Issue.
type Code string

// Issue codes, in rule evaluation order.
const (
	CodeUndefinedName               Code = "undefinedName"
	CodeLimitOfParameters           Code = "limitOfParameters"
	CodeUndefinedMandatoryParameter Code = "undefinedMandatoryParameter"
	CodeTooLongUserID               Code = "tooLongUserId"
	CodeInvalidUserID               Code = "invalidUserId"
	CodeInvalidEmail                Code = "invalidEmail"
	CodeUndefinedParameter          Code = "undefinedParameter"
	CodeUnsupportedType             Code = "unsupportedType"
	CodeWrongType                   Code = "wrongType"
	CodeLimitOfCharacters           Code = "limitOfCharacters"
)

// Severity returns the fixed severity of the code.
func (c Code) Severity() Severity {
	switch c {
	case CodeLimitOfParameters, CodeUndefinedParameter:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// IsTypeError reports whether the code aborts parameter checking.
func (c Code) IsTypeError() bool {
	switch c {
	case CodeUnsupportedType, CodeWrongType, CodeLimitOfCharacters:
		return true
	default:
		return false
	}
}

// Issue is a validation finding attached to an event.
// Issues are data: they never stop an event from flowing through the pipeline.
type Issue struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Key      string   `json:"key,omitempty"`
	Message  string   `json:"message"`
	Actual   int      `json:"actual,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// NewIssue creates an issue with the code's severity.
func NewIssue(code Code, key, format string, args ...any) Issue {
	return Issue{
		Code:     code,
		Severity: code.Severity(),
		Key:      key,
		Message:  fmt.Sprintf(format, args...),
	}
}

// String implements fmt.Stringer.
func (i Issue) String() string {
	if i.Key != "" {
		return fmt.Sprintf("%s %s [%s]: %s", i.Severity, i.Code, i.Key, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Code, i.Message)
}
