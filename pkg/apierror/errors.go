// Package apierror defines the error taxonomy shared by all domain
// components. Services return *Error values; the HTTP boundary maps the
// Kind to a status code and a uniform response body.
package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindUnprocessable Kind = "unprocessable"
	KindUpstream      Kind = "upstream_unavailable"
	KindInternal      Kind = "internal"
)

// Error is a typed domain error. Message is safe to return to clients;
// wrapped causes are not.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is comparisons against sentinel errors of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping an internal cause.
// The cause is available via errors.Unwrap but never shown to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation creates a validation error.
func Validation(message string) *Error { return New(KindValidation, message) }

// Unauthorized creates an unauthorized error. Callers on credential paths
// should use a non-distinguishing message.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error { return New(KindForbidden, message) }

// NotFound creates a not-found error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict creates a conflict error.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Unprocessable creates an unprocessable error.
func Unprocessable(message string) *Error { return New(KindUnprocessable, message) }

// Upstream creates an upstream-unavailable error.
func Upstream(message string, cause error) *Error {
	return Wrap(KindUpstream, message, cause)
}

// Internal creates an internal error. The message shown to clients is
// always generic.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal server error", cause)
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf extracts the client-safe message from an error chain. Unknown
// errors collapse to a generic message so no internal detail leaks.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindInternal {
			return "internal server error"
		}
		return ae.Message
	}
	return "internal server error"
}
