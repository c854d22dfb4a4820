package store

import (
	"context"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
)

// DedupStore persists notification records.
//
// A record starts as a pending claim and becomes sent once the notification
// is delivered. Implementations must make Claim atomic: when several callers
// race on the same key, at most one of them observes claimed == true.
type DedupStore interface {
	// Claim stores rec as a pending claim unless a record already exists for
	// rec.Key. An existing pending record whose ClaimedAt is older than
	// rec.ClaimedAt minus lease is taken over. Sent records are never taken
	// over. It reports whether this call now holds the claim.
	Claim(ctx context.Context, rec domain.DedupRecord, lease time.Duration) (claimed bool, err error)

	// Confirm stores rec as sent, replacing any pending claim for rec.Key.
	Confirm(ctx context.Context, rec domain.DedupRecord) error

	// Exists reports whether a record, pending or sent, exists for key.
	Exists(ctx context.Context, key domain.DedupKey) (bool, error)

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key domain.DedupKey) error

	// PruneBefore removes records whose WindowEnd is before cutoff and
	// returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
