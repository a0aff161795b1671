// Package axerr defines the typed error taxonomy shared by every subsystem.
// Errors carry a machine-readable kind plus a human-readable message; call
// sites wrap with %w so the kind survives arbitrary nesting.
package axerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the wire surface.
type Kind int

const (
	// KindInternal is an unexpected failure that maps to no other kind.
	KindInternal Kind = iota
	// KindNotFound covers unknown resource names, dead PIDs, absent windows,
	// and selectors with zero matches where one is required.
	KindNotFound
	// KindAlreadyExists covers duplicate resource creation.
	KindAlreadyExists
	// KindInvalidArgument covers malformed selectors, page tokens,
	// out-of-range numerics, and unknown key names.
	KindInvalidArgument
	// KindFailedPrecondition covers activation-required-but-disallowed,
	// ambiguous selectors, and circuit-breaker-tripped observations.
	KindFailedPrecondition
	// KindPermissionDenied means the host has not granted accessibility
	// permission to this process.
	KindPermissionDenied
	// KindDeadlineExceeded is a coordinator timeout on an OS call.
	KindDeadlineExceeded
	// KindUnavailable means the target is launching or not yet AX-ready;
	// callers may retry.
	KindUnavailable
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindAlreadyExists:
		return "ALREADY_EXISTS"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindFailedPrecondition:
		return "FAILED_PRECONDITION"
	case KindPermissionDenied:
		return "PERMISSION_DENIED"
	case KindDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps the kind onto the REST surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindFailedPrecondition:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete typed error. It satisfies errors.As so a kind can be
// recovered from any wrap depth.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
// A nil err returns nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// AlreadyExists builds a KindAlreadyExists error.
func AlreadyExists(format string, args ...any) *Error {
	return New(KindAlreadyExists, format, args...)
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// FailedPrecondition builds a KindFailedPrecondition error.
func FailedPrecondition(format string, args ...any) *Error {
	return New(KindFailedPrecondition, format, args...)
}

// PermissionDenied builds a KindPermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

// DeadlineExceeded builds a KindDeadlineExceeded error.
func DeadlineExceeded(format string, args ...any) *Error {
	return New(KindDeadlineExceeded, format, args...)
}

// Unavailable builds a KindUnavailable error.
func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

// Internal builds a KindInternal error.
func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// Internal; context deadline errors are normalized to DeadlineExceeded.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
