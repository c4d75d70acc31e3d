package domain

import "errors"

// ErrValidation is the parent of every client-caused error. Not retried.
var ErrValidation = errors.New("validation failed")

// validationError matches ErrValidation under errors.Is.
type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(msg string) error { return &validationError{msg: msg} }

var (
	// ErrInvalidCoordinates is returned for latitude/longitude out of range.
	ErrInvalidCoordinates = newValidationError("invalid coordinates")

	// ErrInvalidTimestamp is returned for a zero timestamp or one too far in the future.
	ErrInvalidTimestamp = newValidationError("invalid timestamp")

	// ErrInvalidMotion is returned for negative accuracy/speed or heading outside [0, 360).
	ErrInvalidMotion = newValidationError("invalid motion fields")

	// ErrMissingSession is returned when no session is associated with the request.
	ErrMissingSession = newValidationError("session id is required")

	// ErrInvalidTimeRange is returned when end is before start or a bound is missing.
	ErrInvalidTimeRange = newValidationError("invalid time range")

	// ErrMalformedPing is returned for bodies that cannot be decoded into a ping.
	ErrMalformedPing = newValidationError("malformed location ping")
)

var (
	// ErrPersistence wraps location store failures.
	ErrPersistence = errors.New("location store failure")

	// ErrSessionNotFound is returned by the session registry for unknown sessions.
	ErrSessionNotFound = errors.New("tracking session not found")
)
