package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport a notification went out on.
type Channel string

// Supported notification channels
const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// CreationWindow is the window key used for task-creation notifications.
// Creation happens once per task, so a single constant key suffices.
const CreationWindow = "created"

// DedupKey identifies one notifiable occurrence: a task and the window it
// fell into. For deadline notifications the window is the deadline instant
// itself, since each task has exactly one deadline.
type DedupKey struct {
	TaskID uuid.UUID
	Window string
}

// DeadlineKey builds the dedup key for a task's deadline window.
func DeadlineKey(taskID uuid.UUID, deadline time.Time) DedupKey {
	return DedupKey{TaskID: taskID, Window: deadline.UTC().Format(time.RFC3339)}
}

// CreationKey builds the dedup key for a task's creation notification.
func CreationKey(taskID uuid.UUID) DedupKey {
	return DedupKey{TaskID: taskID, Window: CreationWindow}
}

// String renders the key as "<task>/<window>", used for logging and as the
// Redis key suffix.
func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%s", k.TaskID, k.Window)
}

// DedupStatus is the lifecycle state of a dedup record.
type DedupStatus string

// Dedup record states
const (
	// DedupPending marks a claim whose send has not been confirmed. A pending
	// record older than the claim lease may be taken over by another sender.
	DedupPending DedupStatus = "pending"

	// DedupSent marks a confirmed send. Sent records are never taken over.
	DedupSent DedupStatus = "sent"
)

// DedupRecord is the persisted proof that a notification was sent (or is
// being sent) for a key. WindowEnd is the instant after which the key can no
// longer match again: the deadline for deadline keys, the send time for
// creation keys. Records are pruned relative to it.
type DedupRecord struct {
	Key       DedupKey
	Channel   Channel
	Status    DedupStatus
	ClaimedAt time.Time
	SentAt    time.Time // zero until Status is DedupSent
	WindowEnd time.Time
}

// LeaseExpired reports whether rec is a pending claim taken before
// now-lease, so its holder is presumed dead.
func (r DedupRecord) LeaseExpired(now time.Time, lease time.Duration) bool {
	return r.Status == DedupPending && r.ClaimedAt.Before(now.Add(-lease))
}
