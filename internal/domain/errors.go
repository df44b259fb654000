package domain

import "errors"

var (
	// ErrValidation marks malformed or missing input (invalid argument).
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent operation already owns the resource.
	ErrConflict = errors.New("conflict")

	// ErrFailedPrecondition is returned when a batch is already in a terminal state.
	ErrFailedPrecondition = errors.New("failed precondition")

	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
