// Package errs defines the tagged error type shared by the allocation engine.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindRestaurantNotFound     Kind = "restaurant_not_found"
	KindRestaurantClosed       Kind = "restaurant_closed"
	KindOutsideServiceHours    Kind = "outside_service_hours"
	KindTooSoon                Kind = "too_soon"
	KindTooFarAhead            Kind = "too_far_ahead"
	KindInvalidPartySize       Kind = "invalid_party_size"
	KindPartyTooLarge          Kind = "party_too_large"
	KindConcurrentLimit        Kind = "concurrent_limit_exceeded"
	KindPacingOverrideRequired Kind = "pacing_override_required"
	KindNoTablesAvailable      Kind = "no_tables_available"
	KindLockUnavailable        Kind = "lock_unavailable"
	KindStorage                Kind = "storage_error"
	KindBookingNotFound        Kind = "booking_not_found"
	KindInvalidRequest         Kind = "invalid_request"
	KindInvalidTransition      Kind = "invalid_transition"
	KindTableConflict          Kind = "table_conflict"
)

// Error carries a Kind, a human-readable message and whether the whole
// lock-and-operate cycle may be retried.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a non-retryable error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable returns an error the lock wrapper may retry.
func Retryable(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Storage wraps a persistence failure. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err was marked retryable where it originated.
// Untagged errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Message returns the human-readable part of a tagged error, or err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
