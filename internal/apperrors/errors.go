// Package apperrors implements the structured error taxonomy from spec §7.
// Every component boundary converts internal errors to one of the kinds
// defined here before returning to its caller; the taxonomy lets the
// (out-of-scope) transport layer map to protocol-level status uniformly,
// and lets local callers decide which errors are worth retrying.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/sqlopt/engine/internal/model"
)

// Kind classifies an error into the bounded set the spec requires callers
// to reason about. Never treat an unclassified error as automatically safe
// to retry.
type Kind string

const (
	// Input is malformed caller input; never retried.
	Input Kind = "INPUT"
	// NotFound means the referenced entity id is unknown.
	NotFound Kind = "NOT_FOUND"
	// Conflict is a unique-constraint or state-machine violation.
	Conflict Kind = "CONFLICT"
	// Capability means the target engine lacks a required view/privilege.
	Capability Kind = "CAPABILITY"
	// Unavailable is a transient transport error; retry with backoff.
	Unavailable Kind = "UNAVAILABLE"
	// SafetyCheckFailed means an applicator safety gate rejected a fix.
	SafetyCheckFailed Kind = "SAFETY_CHECK_FAILED"
	// Upstream is a CompletionService failure recorded on the Optimization,
	// never propagated past the orchestrator's caller.
	Upstream Kind = "UPSTREAM"
	// Fatal is data corruption or a programmer bug; it surfaces and
	// terminates the work unit.
	Fatal Kind = "FATAL"
)

// Error is the concrete error type carried across every component boundary.
type Error struct {
	kind    Kind
	message string
	cause   error

	// Safety is populated only for SafetyCheckFailed errors.
	Safety *model.SafetyCheckRecord
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.kind, e.message)
}

// Unwrap supports errors.Is / errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the message without the kind prefix or cause suffix.
func (e *Error) Message() string { return e.message }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), cause: cause}
}

func NewInput(format string, args ...interface{}) *Error      { return newErr(Input, format, args...) }
func NewNotFound(format string, args ...interface{}) *Error   { return newErr(NotFound, format, args...) }
func NewConflict(format string, args ...interface{}) *Error   { return newErr(Conflict, format, args...) }
func NewCapability(format string, args ...interface{}) *Error { return newErr(Capability, format, args...) }
func NewUnavailable(format string, args ...interface{}) *Error {
	return newErr(Unavailable, format, args...)
}
func NewFatal(format string, args ...interface{}) *Error { return newErr(Fatal, format, args...) }

func NewSafetyCheckFailed(result *model.SafetyCheckRecord) *Error {
	return &Error{kind: SafetyCheckFailed, message: "safety check failed", Safety: result}
}

func WrapUnavailable(cause error, format string, args ...interface{}) *Error {
	return wrapErr(Unavailable, cause, format, args...)
}
func WrapUpstream(cause error, format string, args ...interface{}) *Error {
	return wrapErr(Upstream, cause, format, args...)
}
func WrapFatal(cause error, format string, args ...interface{}) *Error {
	return wrapErr(Fatal, cause, format, args...)
}
func WrapConflict(cause error, format string, args ...interface{}) *Error {
	return wrapErr(Conflict, cause, format, args...)
}

// Classify returns the Kind of err if it (or something it wraps) is an
// *Error, and Kind("") with ok=false otherwise.
func Classify(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := Classify(err)
	return ok && k == kind
}
