package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// DefaultClaimLease is how long a pending claim blocks other senders before
// it is presumed abandoned.
const DefaultClaimLease = 2 * time.Minute

// DedupTracker records which (task, window) pairs have been notified.
// Claim is the only safe way to gate a send; ShouldSend is advisory.
//
// A claim is a lease: it is stored as pending before the send and confirmed
// with MarkSent afterwards. A pending claim whose holder died mid-send is
// taken over by the next Claim once the lease has passed.
type DedupTracker struct {
	store store.DedupStore
	lease time.Duration
	clock func() time.Time
}

// NewDedupTracker creates a tracker over the given store using
// DefaultClaimLease.
func NewDedupTracker(s store.DedupStore) *DedupTracker {
	return NewDedupTrackerWithLease(s, DefaultClaimLease)
}

// NewDedupTrackerWithLease creates a tracker whose claims expire after lease.
// A non-positive lease means DefaultClaimLease.
func NewDedupTrackerWithLease(s store.DedupStore, lease time.Duration) *DedupTracker {
	if s == nil {
		panic("dedup store cannot be nil")
	}
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &DedupTracker{store: s, lease: lease, clock: time.Now}
}

// Lease returns the claim lease.
func (d *DedupTracker) Lease() time.Duration {
	return d.lease
}

// ShouldSend reports whether no record, pending or sent, exists yet for key.
func (d *DedupTracker) ShouldSend(ctx context.Context, key domain.DedupKey) (bool, error) {
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check dedup record %s: %w", key, err)
	}
	return !exists, nil
}

// MarkSent confirms rec as sent. A zero SentAt is stamped with the current
// time. Confirming an already sent key is a no-op apart from the timestamp.
func (d *DedupTracker) MarkSent(ctx context.Context, rec domain.DedupRecord) error {
	rec.Status = domain.DedupSent
	if rec.SentAt.IsZero() {
		rec.SentAt = d.clock().UTC()
	}
	if err := d.store.Confirm(ctx, rec); err != nil {
		return fmt.Errorf("failed to mark %s as sent: %w", rec.Key, err)
	}
	return nil
}

// Claim atomically stores rec as a pending claim unless the key is already
// sent or held under a live lease. At most one of several concurrent callers
// for the same key gets true. A zero ClaimedAt is stamped with the current
// time.
func (d *DedupTracker) Claim(ctx context.Context, rec domain.DedupRecord) (bool, error) {
	rec.Status = domain.DedupPending
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = d.clock().UTC()
	}
	claimed, err := d.store.Claim(ctx, rec, d.lease)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", rec.Key, err)
	}
	return claimed, nil
}

// Release drops a claim so the key can be claimed again.
func (d *DedupTracker) Release(ctx context.Context, key domain.DedupKey) error {
	if err := d.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Prune removes records whose window ended before cutoff.
func (d *DedupTracker) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := d.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dedup records: %w", err)
	}
	return n, nil
}

// detached returns a context that survives cancellation of ctx, bounded by
// detachedTimeout, for store writes that must follow an aborted send.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}

// releaseDetached releases key even when ctx is already cancelled, so an
// aborted send does not leave a claim that blocks the next scan.
func (d *DedupTracker) releaseDetached(ctx context.Context, key domain.DedupKey) error {
	dctx, cancel := detached(ctx)
	defer cancel()
	return d.Release(dctx, key)
}

// confirmDetached marks rec as sent even when ctx is already cancelled, so a
// delivered notification is not sent again after its lease passes.
func (d *DedupTracker) confirmDetached(ctx context.Context, rec domain.DedupRecord) error {
	dctx, cancel := detached(ctx)
	defer cancel()
	return d.MarkSent(dctx, rec)
}

const detachedTimeout = 5 * time.Second
