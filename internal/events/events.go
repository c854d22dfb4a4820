package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event source names
const (
	SourcePostgres = "postgres"
	SourceAMQP     = "amqp"
)

// ErrInvalidPayload is returned when an event payload does not identify a task.
var ErrInvalidPayload = errors.New("invalid task created payload")

// TaskCreatedEvent announces that a todo was inserted. Sources deliver it at
// least once, so handlers must tolerate duplicates.
type TaskCreatedEvent struct {
	// ID is a unique identifier for this delivery
	ID uuid.UUID `json:"id"`

	// TaskID identifies the created todo
	TaskID uuid.UUID `json:"task_id"`

	// Source names the transport the event arrived on
	Source string `json:"source"`

	// ReceivedAt is the timestamp when the event was received
	ReceivedAt time.Time `json:"received_at"`
}

// taskCreatedPayload is the JSON body published by producers
type taskCreatedPayload struct {
	TaskID string `json:"task_id"`
}

// NewTaskCreatedEvent creates a TaskCreatedEvent for the given task.
func NewTaskCreatedEvent(taskID uuid.UUID, source string) *TaskCreatedEvent {
	return &TaskCreatedEvent{
		ID:         uuid.New(),
		TaskID:     taskID,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
}

// ParseTaskCreated decodes a raw payload into an event. The payload may be a
// JSON object with a task_id field or the bare task ID.
func ParseTaskCreated(payload []byte, source string) (*TaskCreatedEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	raw := string(trimmed)
	if trimmed[0] == '{' {
		var body taskCreatedPayload
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = body.TaskID
	}

	taskID, err := uuid.Parse(raw)
	if err != nil || taskID == uuid.Nil {
		return nil, fmt.Errorf("%w: task id %q", ErrInvalidPayload, raw)
	}

	return NewTaskCreatedEvent(taskID, source), nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// Event sources publish through it without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskCreatedEvent) error
}
