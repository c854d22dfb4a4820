package memory

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// Verify interface compliance at compile time
var _ store.DedupStore = (*DedupStore)(nil)

// DedupStore is a mutex-guarded map implementation of store.DedupStore.
type DedupStore struct {
	mu      sync.Mutex
	records map[domain.DedupKey]domain.DedupRecord
}

// NewDedupStore creates an empty DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{
		records: make(map[domain.DedupKey]domain.DedupRecord),
	}
}

// Claim implements store.DedupStore.
func (s *DedupStore) Claim(ctx context.Context, rec domain.DedupRecord, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Key]; ok && !existing.LeaseExpired(rec.ClaimedAt, lease) {
		return false, nil
	}
	rec.Status = domain.DedupPending
	s.records[rec.Key] = rec
	return true, nil
}

// Confirm implements store.DedupStore.
func (s *DedupStore) Confirm(ctx context.Context, rec domain.DedupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = domain.DedupSent
	s.records[rec.Key] = rec
	return nil
}

// Get returns the stored record for key.
func (s *DedupStore) Get(key domain.DedupKey) (domain.DedupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Exists implements store.DedupStore.
func (s *DedupStore) Exists(ctx context.Context, key domain.DedupKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[key]
	return ok, nil
}

// Delete implements store.DedupStore.
func (s *DedupStore) Delete(ctx context.Context, key domain.DedupKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// PruneBefore implements store.DedupStore.
func (s *DedupStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if rec.WindowEnd.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *DedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
