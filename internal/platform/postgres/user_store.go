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

// PostgresUserStore implements the store.UserStore interface
// using a PostgreSQL database as the storage backend.
type PostgresUserStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresUserStore creates a new PostgreSQL implementation of the UserStore interface.
// It accepts a database connection that should be initialized and managed by the caller.
func NewPostgresUserStore(db store.DBTX, logger *slog.Logger) *PostgresUserStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUserStore{
		db:     db,
		logger: logger.With(slog.String("component", "user_store")),
	}
}

// Ensure PostgresUserStore implements store.UserStore interface
var _ store.UserStore = (*PostgresUserStore)(nil)

// GetUser implements store.UserStore.GetUser.
// Missing contact methods come back as empty strings.
func (s *PostgresUserStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var (
		u     domain.User
		token sql.NullString
		email sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, token, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &token, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get user",
			slog.String("user_id", id.String()),
			slog.String("error", redact.Error(err)))
		return nil, store.NewStoreError("user", "get", "failed to get user", MapError(err))
	}

	u.Token = token.String
	u.Email = email.String
	return &u, nil
}
