package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidDeadline is returned when a task's stored deadline cannot be
	// interpreted as an absolute point in time.
	ErrInvalidDeadline = errors.New("invalid deadline")

	// ErrInvalidEmail is returned when an email address is malformed.
	ErrInvalidEmail = errors.New("invalid email format")
)
