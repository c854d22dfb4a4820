package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/store"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every dedup key.
const KeyPrefix = "notify:dedup:"

// minTTL keeps keys for already-expired windows alive long enough to block
// an overlapping scan.
const minTTL = time.Minute

// client is the subset of redis.Cmdable used by the store
type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config holds the connection settings for the store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Retention is how long a key outlives its window end
	Retention time.Duration
}

// DedupStore implements store.DedupStore on Redis.
//
// A pending claim is a key whose TTL is the claim lease, so an abandoned claim
// expires on its own and the next SETNX takes it over. Confirm rewrites the
// key with the full retention TTL.
type DedupStore struct {
	rdb       client
	closer    func() error
	retention time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

// Ensure DedupStore implements store.DedupStore interface
var _ store.DedupStore = (*DedupStore)(nil)

// record is the JSON value stored under each key
type record struct {
	Channel   string     `json:"channel"`
	Status    string     `json:"status"`
	ClaimedAt time.Time  `json:"claimed_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	WindowEnd time.Time  `json:"window_end"`
}

func encode(rec domain.DedupRecord, status domain.DedupStatus) ([]byte, error) {
	r := record{
		Channel:   string(rec.Channel),
		Status:    string(status),
		ClaimedAt: rec.ClaimedAt.UTC(),
		WindowEnd: rec.WindowEnd.UTC(),
	}
	if status == domain.DedupSent {
		sentAt := rec.SentAt.UTC()
		r.SentAt = &sentAt
	}
	return json.Marshal(r)
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*DedupStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", store.ErrUnavailable, err)
	}

	s := newDedupStore(rdb, cfg.Retention, logger)
	s.closer = rdb.Close
	return s, nil
}

func newDedupStore(rdb client, retention time.Duration, logger *slog.Logger) *DedupStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupStore{
		rdb:       rdb,
		retention: retention,
		logger:    logger.With(slog.String("component", "redis_dedup_store")),
		clock:     time.Now,
	}
}

// Close releases the underlying connection pool.
func (s *DedupStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// redisKey renders the namespaced key for a dedup key
func redisKey(key domain.DedupKey) string {
	return KeyPrefix + key.String()
}

// ttl returns how long a record must live: until retention after its window end
func (s *DedupStore) ttl(rec domain.DedupRecord) time.Duration {
	ttl := rec.WindowEnd.Add(s.retention).Sub(s.clock())
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// Claim implements store.DedupStore.Claim.
func (s *DedupStore) Claim(ctx context.Context, rec domain.DedupRecord, lease time.Duration) (bool, error) {
	value, err := encode(rec, domain.DedupPending)
	if err != nil {
		return false, store.NewStoreError("dedup", "insert", "failed to encode record", err)
	}

	ttl := lease
	if ttl <= 0 {
		ttl = s.ttl(rec)
	}
	ok, err := s.rdb.SetNX(ctx, redisKey(rec.Key), value, ttl).Result()
	if err != nil {
		return false, store.NewStoreError("dedup", "insert", "redis SETNX failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return ok, nil
}

// Confirm implements store.DedupStore.Confirm.
func (s *DedupStore) Confirm(ctx context.Context, rec domain.DedupRecord) error {
	value, err := encode(rec, domain.DedupSent)
	if err != nil {
		return store.NewStoreError("dedup", "update", "failed to encode record", err)
	}

	if err := s.rdb.Set(ctx, redisKey(rec.Key), value, s.ttl(rec)).Err(); err != nil {
		return store.NewStoreError("dedup", "update", "redis SET failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// Exists implements store.DedupStore.Exists.
func (s *DedupStore) Exists(ctx context.Context, key domain.DedupKey) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, store.NewStoreError("dedup", "get", "redis EXISTS failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return n > 0, nil
}

// Delete implements store.DedupStore.Delete.
func (s *DedupStore) Delete(ctx context.Context, key domain.DedupKey) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return store.NewStoreError("dedup", "delete", "redis DEL failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// PruneBefore implements store.DedupStore.PruneBefore. Keys expire through
// their TTL, so there is nothing to remove explicitly.
func (s *DedupStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
