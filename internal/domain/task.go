package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// deadlineLayouts lists the textual deadline formats accepted by ParseDeadline,
// tried in order. Layouts without a zone are interpreted as UTC.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Task is a todo item owned by a user. The core only ever reads tasks; they
// are created and completed by other actors.
type Task struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Deadline  string    `json:"deadline"` // raw stored value, see ParseDeadline
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the task carries the identifiers the notifier needs.
// It does not validate the deadline; an unparseable deadline is a per-task
// data error reported by the scanner, not a malformed entity.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task ID cannot be empty", ErrInvalidID)
	}
	if t.UserID == uuid.Nil {
		return fmt.Errorf("%w: task user ID cannot be empty", ErrInvalidID)
	}
	return nil
}

// DeadlineTime parses the task's stored deadline.
func (t *Task) DeadlineTime() (time.Time, error) {
	return ParseDeadline(t.Deadline)
}

// ParseDeadline interprets a stored deadline string as an absolute instant.
// The result is always in UTC.
func ParseDeadline(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDeadline)
	}

	for _, layout := range deadlineLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDeadline, value)
}
