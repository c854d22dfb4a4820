package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
)

// TaskStore defines read access to todo tasks.
type TaskStore interface {
	// QueryIncompleteTasks returns every task whose completed flag is false.
	// No time filter is applied; deadlines are parsed by the caller.
	QueryIncompleteTasks(ctx context.Context) ([]domain.Task, error)

	// GetTask retrieves a single task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}
