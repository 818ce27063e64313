// Package errkind gives every error surfaced by the core reconciliation
// engines one of a small closed set of kinds, replacing exception-style
// control flow with explicit result types. Every kind, InvariantViolation
// included, is a plain returned value callers switch on; no kind is
// raised by panic.
package errkind

import "fmt"

// Kind is the closed set of error classifications used across the core.
type Kind string

const (
	// InvariantViolation is an illegal state transition, duplicate
	// hostname, or broken lock order. Fatal for the request, never for
	// the process.
	InvariantViolation Kind = "invariant_violation"

	// NotFound means the requested entity does not exist. Surfaced to
	// callers; never retried by the core.
	NotFound Kind = "not_found"

	// Conflict means an optimistic re-read under lock revealed a
	// change since the probe. Handled by bounded retry inside the core.
	Conflict Kind = "conflict"

	// Transient means the store was unavailable or an external call
	// timed out. Retried with exponential backoff up to a configured
	// ceiling, then surfaced.
	Transient Kind = "transient"

	// Permanent means an external API returned a definitive rejection
	// (quota exceeded, forbidden). Surfaced immediately.
	Permanent Kind = "permanent"

	// Capacity means allocation could not be satisfied.
	Capacity Kind = "capacity"
)

// Error is the concrete error type every core operation returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	ke, ok := err.(*Error)
	return ok && ke.Kind == kind
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	ke, ok := err.(*Error)
	if !ok {
		return ""
	}
	return ke.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Invariantf(format string, args ...any) *Error {
	return &Error{Kind: InvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Message: fmt.Sprintf(format, args...)}
}

func Transientf(cause error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Permanentf(cause error, format string, args ...any) *Error {
	return &Error{Kind: Permanent, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Capacityf(format string, args ...any) *Error {
	return &Error{Kind: Capacity, Message: fmt.Sprintf(format, args...)}
}
