// Package apexerr defines the typed error taxonomy shared by every
// APEX component, per the severity/recovery-strategy mapping in the
// orchestration kernel's error handling design.
package apexerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the fixed categories every
// component reasons about when deciding whether to retry, abort, or
// surface a failure to the user.
type Kind string

const (
	NotFound          Kind = "NotFound"
	AlreadyExists     Kind = "AlreadyExists"
	InvalidInput      Kind = "InvalidInput"
	Conflict          Kind = "Conflict"
	ResourceExhausted Kind = "ResourceExhausted"
	Timeout           Kind = "Timeout"
	IOFailure         Kind = "IOFailure"
	SubprocessFailure Kind = "SubprocessFailure"
	ProtocolViolation Kind = "ProtocolViolation"
	Critical          Kind = "Critical"
)

// Severity drives the recovery path selected for an error.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Strategy names the recovery action chosen for a handled error.
type Strategy string

const (
	StrategyRetry             Strategy = "RETRY"
	StrategyFallback          Strategy = "FALLBACK"
	StrategySkip              Strategy = "SKIP"
	StrategyAbort             Strategy = "ABORT"
	StrategyUserIntervention  Strategy = "USER_INTERVENTION"
)

// Error is the typed error value every APEX component returns instead
// of a language-level panic or a bare fmt.Errorf. Callers can recover
// the structured fields with errors.As.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Severity  Severity
	Category  string
	Strategy  Strategy
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s: %s.%s", e.Kind, e.Component, e.Operation)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error, filling in the severity/strategy defaults
// implied by Kind unless the caller overrides them afterward.
func New(kind Kind, component, operation string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Severity:  defaultSeverity(kind),
		Strategy:  defaultStrategy(kind),
		Cause:     cause,
	}
}

func defaultSeverity(k Kind) Severity {
	switch k {
	case Critical:
		return SeverityCritical
	case InvalidInput, NotFound, AlreadyExists:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func defaultStrategy(k Kind) Strategy {
	switch k {
	case Critical:
		return StrategyAbort
	case IOFailure:
		return StrategyRetry
	case Timeout, SubprocessFailure:
		return StrategyFallback
	case ResourceExhausted:
		return StrategySkip
	case InvalidInput:
		return StrategyUserIntervention
	default:
		return StrategyFallback
	}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
