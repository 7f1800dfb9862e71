package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. The set is closed; the gateway maps each
// kind to an HTTP status code.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindStateError      Kind = "state_error"
	KindAuthorization   Kind = "authorization"
	KindPaymentRequired Kind = "payment_required"
	KindPaymentInvalid  Kind = "payment_invalid"
	KindPaymentBackend  Kind = "payment_backend"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Error is the kind-tagged error exchanged between services and the gateway.
// Message is the externally quotable text; Cause carries the wrapped internal
// failure and is never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New constructs a kind-tagged error with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a kind-tagged error retaining the underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind from err, unwrapping as needed. Untagged errors
// report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message for err, or an empty string for
// untagged errors.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
