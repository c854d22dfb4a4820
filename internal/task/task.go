package task

import (
	"context"

	"github.com/google/uuid"
)

// Task type constants
const (
	// TaskTypeDeadlineDispatch delivers one deadline notification for one todo.
	TaskTypeDeadlineDispatch = "deadline_dispatch"
)

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's identifier, used for logging
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Execute runs the task logic
	Execute(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing producers to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// Func adapts a function to the Task interface.
type Func struct {
	TaskID   uuid.UUID
	TaskType string
	Fn       func(ctx context.Context) error
}

// ID returns the task's identifier
func (f Func) ID() uuid.UUID { return f.TaskID }

// Type returns the task type identifier
func (f Func) Type() string { return f.TaskType }

// Execute runs the wrapped function
func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }
