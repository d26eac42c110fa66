// Package errs implements the structured error taxonomy used across
// agentkernel: every fallible operation returns either a nil error or an
// *Error carrying a machine-readable Kind, a human-readable message, an
// optional wrapped Cause, and a Details bag for denial reasons, matched
// rule ids, and similar context.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of an Error. Kinds drive both
// propagation policy (§7) and, for HTTP-facing callers, status mapping.
type Kind string

const (
	InvalidState         Kind = "invalid_state"
	InvalidConfiguration Kind = "invalid_configuration"
	PermissionDenied     Kind = "permission_denied"
	PolicyBlocked        Kind = "policy_blocked"
	ApprovalRequired     Kind = "approval_required"
	RateLimited          Kind = "rate_limited"
	ResourceExceeded     Kind = "resource_exceeded"
	Timeout              Kind = "timeout"
	Cancelled            Kind = "cancelled"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	StorageFailure       Kind = "storage_failure"
	Internal             Kind = "internal"
)

// HTTPStatus returns the conventional HTTP status for a Kind, used by the
// optional chi-routed surfaces (approval callback, health/metrics).
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidConfiguration:
		return 400
	case PermissionDenied, PolicyBlocked:
		return 403
	case ApprovalRequired:
		return 409
	case NotFound:
		return 404
	case Conflict:
		return 409
	case RateLimited:
		return 429
	case Timeout:
		return 504
	case Cancelled:
		return 499
	case StorageFailure:
		return 503
	case InvalidState:
		return 422
	default:
		return 500
	}
}

// Error is agentkernel's structured error type. It is immutable: every
// With* method returns a new value rather than mutating the receiver.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]any
}

// New creates an Error of the given Kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given Kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is / errors.As against the wrapped Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.NotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetails returns a copy of e with the given details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Cause: e.Cause, Details: merged}
}

// WithDetail returns a copy of e with a single key/value added to Details.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Of reports the Kind of err, or "" if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
