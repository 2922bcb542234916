package errors

import "errors"

// Application-wide errors shared by repositories, services and handlers.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned on unique constraint violations.
	ErrConflict = errors.New("resource state conflict")
)
