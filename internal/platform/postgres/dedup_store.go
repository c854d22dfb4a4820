package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// PostgresDedupStore implements store.DedupStore over the notification_log
// table. The (task_id, window_key) primary key makes Claim atomic across
// processes.
type PostgresDedupStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDedupStore creates a new PostgresDedupStore.
func NewPostgresDedupStore(db store.DBTX, logger *slog.Logger) *PostgresDedupStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDedupStore{
		db:     db,
		logger: logger.With(slog.String("component", "dedup_store")),
	}
}

// Ensure PostgresDedupStore implements store.DedupStore interface
var _ store.DedupStore = (*PostgresDedupStore)(nil)

// Claim implements store.DedupStore.Claim.
//
// The upsert only replaces a conflicting row that is still pending and whose
// claim is older than the lease, so one affected row means this call holds
// the claim.
func (s *PostgresDedupStore) Claim(ctx context.Context, rec domain.DedupRecord, lease time.Duration) (bool, error) {
	claimedAt := rec.ClaimedAt.UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (task_id, window_key, channel, status, claimed_at, sent_at, window_end)
		VALUES ($1, $2, $3, 'pending', $4, NULL, $5)
		ON CONFLICT (task_id, window_key) DO UPDATE
			SET channel = EXCLUDED.channel,
				claimed_at = EXCLUDED.claimed_at,
				window_end = EXCLUDED.window_end
			WHERE notification_log.status = 'pending'
				AND notification_log.claimed_at < $6`,
		rec.Key.TaskID,
		rec.Key.Window,
		string(rec.Channel),
		claimedAt,
		rec.WindowEnd.UTC(),
		claimedAt.Add(-lease),
	)
	if err != nil {
		return false, store.NewStoreError("notification_log", "insert", "failed to claim dedup record", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("notification_log", "insert", "failed to get rows affected", err)
	}
	return n == 1, nil
}

// Confirm implements store.DedupStore.Confirm.
func (s *PostgresDedupStore) Confirm(ctx context.Context, rec domain.DedupRecord) error {
	claimedAt := rec.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = rec.SentAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (task_id, window_key, channel, status, claimed_at, sent_at, window_end)
		VALUES ($1, $2, $3, 'sent', $4, $5, $6)
		ON CONFLICT (task_id, window_key) DO UPDATE
			SET status = 'sent',
				sent_at = EXCLUDED.sent_at,
				window_end = EXCLUDED.window_end`,
		rec.Key.TaskID,
		rec.Key.Window,
		string(rec.Channel),
		claimedAt.UTC(),
		rec.SentAt.UTC(),
		rec.WindowEnd.UTC(),
	)
	if err != nil {
		return store.NewStoreError("notification_log", "update", "failed to confirm dedup record", MapError(err))
	}
	return nil
}

// Status returns the stored status of key, or "" when no record exists.
func (s *PostgresDedupStore) Status(ctx context.Context, key domain.DedupKey) (domain.DedupStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM notification_log WHERE task_id = $1 AND window_key = $2`,
		key.TaskID, key.Window,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", store.NewStoreError("notification_log", "get", "failed to read dedup status", MapError(err))
	}
	return domain.DedupStatus(status), nil
}

// Exists implements store.DedupStore.Exists.
func (s *PostgresDedupStore) Exists(ctx context.Context, key domain.DedupKey) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_log WHERE task_id = $1 AND window_key = $2)`,
		key.TaskID, key.Window,
	).Scan(&exists)
	if err != nil {
		return false, store.NewStoreError("notification_log", "get", "failed to check dedup record", MapError(err))
	}
	return exists, nil
}

// Delete implements store.DedupStore.Delete.
func (s *PostgresDedupStore) Delete(ctx context.Context, key domain.DedupKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_log WHERE task_id = $1 AND window_key = $2`,
		key.TaskID, key.Window,
	)
	if err != nil {
		return store.NewStoreError("notification_log", "delete", "failed to delete dedup record", MapError(err))
	}
	return nil
}

// PruneBefore implements store.DedupStore.PruneBefore.
func (s *PostgresDedupStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_log WHERE window_end < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, store.NewStoreError("notification_log", "delete", "failed to prune dedup records", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("notification_log", "delete", "failed to get rows affected", err)
	}
	return n, nil
}
