package event

import (
	"errors"
	"fmt"
)

// Domain errors for event operations.
var (
	// ErrNotFound is returned when a referenced event does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrForbidden is returned when the caller does not own the event.
	ErrForbidden = errors.New("event owned by another principal")

	// ErrInvalidID is returned when an event ID is missing or malformed.
	ErrInvalidID = errors.New("invalid event ID")

	// ErrReplayLimit is returned when an event has exhausted its
	// replay attempt budget.
	ErrReplayLimit = errors.New("replay attempt limit exceeded")

	// ErrStoreUnavailable is returned when the backing store call fails.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrQueueFailure is returned when the retry queue cannot accept
	// a message. Absorbed off the critical path.
	ErrQueueFailure = errors.New("retry queue send failed")
)

// ValidationError reports malformed caller input for a named field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation failure of any field.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
