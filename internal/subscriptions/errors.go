package subscriptions

import (
	"errors"
	"fmt"
)

// Repository errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionNotOwned = errors.New("subscription belongs to another owner")
)

// ErrActiveLimitExceeded is wrapped by the ValidationError returned when an
// owner would exceed the active subscription limit.
var ErrActiveLimitExceeded = errors.New("active subscription limit exceeded")

// ValidationError reports invalid subscription input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidField reports the offending field for HTTP error rendering.
func (e *ValidationError) InvalidField() (string, string) {
	return e.Field, e.Reason
}

// Unwrap returns the underlying cause, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
