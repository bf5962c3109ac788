package types

import "errors"

var (
	// ErrCapacity is returned when a concurrency ceiling is already occupied
	ErrCapacity = errors.New("too many operations in progress")

	// ErrDuplicate rejects a second in-flight update for the same version
	ErrDuplicate = errors.New("an operation for this target is already in progress")

	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
)
