package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface over the todos table.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const selectTodoColumns = `SELECT id, user_id, title, deadline, completed, created_at FROM todos`

// QueryIncompleteTasks implements store.TaskStore.QueryIncompleteTasks.
// Deadlines are returned as stored; no time filter is applied here.
func (s *PostgresTaskStore) QueryIncompleteTasks(ctx context.Context) ([]domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, selectTodoColumns+` WHERE completed = FALSE ORDER BY created_at ASC`)
	if err != nil {
		log.Error("failed to query incomplete tasks", slog.String("error", redact.Error(err)))
		return nil, store.NewStoreError("task", "query", "failed to query incomplete tasks", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Warn("failed to close rows", slog.String("error", cerr.Error()))
		}
	}()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Deadline, &t.Completed, &t.CreatedAt); err != nil {
			return nil, store.NewStoreError("task", "scan", "failed to scan task row", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "query", "error iterating task rows", MapError(err))
	}

	log.Debug("queried incomplete tasks", slog.Int("count", len(tasks)))
	return tasks, nil
}

// GetTask implements store.TaskStore.GetTask.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var t domain.Task
	err := s.db.QueryRowContext(ctx, selectTodoColumns+` WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Title, &t.Deadline, &t.Completed, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("task_id", id.String()),
			slog.String("error", redact.Error(err)))
		return nil, store.NewStoreError("task", "get", "failed to get task", MapError(err))
	}
	return &t, nil
}
