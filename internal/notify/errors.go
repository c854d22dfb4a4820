package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget indicates the user has no registered push token.
	ErrNoTarget = errors.New("user has no push target")

	// ErrNoEmail indicates the user has no email address on file.
	ErrNoEmail = errors.New("user has no email address")

	// ErrNoUser indicates the task's owner could not be found.
	ErrNoUser = errors.New("task owner not found")

	// ErrAlreadySent indicates the dedup key was already claimed.
	ErrAlreadySent = errors.New("notification already sent")

	// ErrDeliveryFailed indicates the transport rejected or failed a send.
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// ScanError reports a failure that aborted a whole scan, as opposed to the
// per-task failures counted in a ScanReport.
type ScanError struct {
	// Operation is the step that failed (e.g., "query_incomplete_tasks")
	Operation string
	// Err is the underlying error
	Err error
}

// Error implements the error interface for ScanError.
func (e *ScanError) Error() string {
	return fmt.Sprintf("scan aborted during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ScanError) Unwrap() error {
	return e.Err
}
