package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	"golang.org/x/sync/semaphore"
)

// Push notification content
const (
	DeadlineTitle = "Todo Deadline Approaching!"
	DefaultSound  = "default"
)

// PushPayload is the content of a push notification.
type PushPayload struct {
	Title string
	Body  string
	Sound string
}

// PushSender delivers a push notification to a device token and returns the
// transport's receipt (message ID).
type PushSender interface {
	Send(ctx context.Context, token string, payload PushPayload) (string, error)
}

// OutcomeKind classifies the result of a dispatch attempt.
type OutcomeKind string

// Dispatch outcome kinds
const (
	OutcomeSent    OutcomeKind = "sent"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// SkipReason says why a dispatch was skipped.
type SkipReason string

// Skip reasons
const (
	SkipNoTarget    SkipReason = "no_target"
	SkipAlreadySent SkipReason = "already_sent"
	SkipNoUser      SkipReason = "no_user"
)

// DispatchOutcome is the result of one dispatch attempt.
type DispatchOutcome struct {
	Kind    OutcomeKind
	Reason  SkipReason // set when Kind is OutcomeSkipped
	Receipt string     // set when Kind is OutcomeSent
	Err     error      // set when Kind is OutcomeFailed or OutcomeSkipped
}

// Sent returns a successful outcome.
func Sent(receipt string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeSent, Receipt: receipt}
}

// skipErrors maps each skip reason to the sentinel carried in the outcome
var skipErrors = map[SkipReason]error{
	SkipNoTarget:    ErrNoTarget,
	SkipAlreadySent: ErrAlreadySent,
	SkipNoUser:      ErrNoUser,
}

// Skipped returns a skipped outcome whose Err is the sentinel for reason.
func Skipped(reason SkipReason) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeSkipped, Reason: reason, Err: skipErrors[reason]}
}

// Failed returns a failed outcome.
func Failed(err error) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeFailed, Err: err}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Lookahead is the notification window, used in the message body
	Lookahead time.Duration

	// MaxInFlight caps concurrent sends across all scans. Zero or negative means 1.
	MaxInFlight int64
}

// Dispatcher sends deadline push notifications, at most once per window.
type Dispatcher struct {
	push   PushSender
	dedup  *DedupTracker
	sem    *semaphore.Weighted
	config DispatcherConfig
	logger *slog.Logger
	clock  func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	push PushSender,
	dedup *DedupTracker,
	config DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if push == nil {
		panic("push sender cannot be nil")
	}
	if dedup == nil {
		panic("dedup tracker cannot be nil")
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		push:   push,
		dedup:  dedup,
		sem:    semaphore.NewWeighted(config.MaxInFlight),
		config: config,
		logger: logger.With(slog.String("component", "dispatcher")),
		clock:  time.Now,
	}
}

// Dispatch notifies user about task's approaching deadline. A nil user
// yields Skipped(NoUser); a user without a token yields Skipped(NoTarget)
// and leaves the dedup store untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, task domain.Task, user *domain.User) DispatchOutcome {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("task_id", task.ID.String()),
		slog.String("user_id", task.UserID.String()))

	if user == nil {
		log.Info("skipping notification, task owner not found")
		return Skipped(SkipNoUser)
	}
	if !user.HasPushTarget() {
		log.Info("skipping notification, user has no push target")
		return Skipped(SkipNoTarget)
	}

	deadline, err := task.DeadlineTime()
	if err != nil {
		log.Warn("cannot dispatch task with invalid deadline", slog.String("error", err.Error()))
		return Failed(err)
	}

	rec := domain.DedupRecord{
		Key:       domain.DeadlineKey(task.ID, deadline),
		Channel:   domain.ChannelPush,
		ClaimedAt: d.clock().UTC(),
		WindowEnd: deadline,
	}
	log = log.With(slog.String("dedup_key", rec.Key.String()))

	claimed, err := d.dedup.Claim(ctx, rec)
	if err != nil {
		log.Error("failed to claim dedup key", slog.String("error", redact.Error(err)))
		return Failed(err)
	}
	if !claimed {
		log.Debug("notification already sent for window")
		return Skipped(SkipAlreadySent)
	}

	// Any exit short of a delivered send, a panic included, gives the claim back.
	sent := false
	defer func() {
		if !sent {
			d.release(ctx, log, rec.Key)
		}
	}()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Failed(fmt.Errorf("waiting for send slot: %w", err))
	}
	defer d.sem.Release(1)

	payload := DeadlinePayload(task.Title, d.config.Lookahead)
	receipt, err := d.push.Send(ctx, user.Token, payload)
	if err != nil {
		log.Error("push delivery failed",
			slog.String("token", redact.Token(user.Token)),
			slog.String("error", redact.Error(err)))
		return Failed(errors.Join(ErrDeliveryFailed, err))
	}
	sent = true

	rec.SentAt = d.clock().UTC()
	if err := d.dedup.confirmDetached(ctx, rec); err != nil {
		// The pending claim still blocks resends until its lease passes.
		log.Error("failed to confirm dedup record", slog.String("error", redact.Error(err)))
	}

	log.Info("deadline notification sent",
		slog.String("token", redact.Token(user.Token)),
		slog.String("receipt", receipt))
	return Sent(receipt)
}

// release drops a claim after a failed attempt; failure to do so only delays
// the retry until the lease passes, so it is logged, not returned.
func (d *Dispatcher) release(ctx context.Context, log *slog.Logger, key domain.DedupKey) {
	if err := d.dedup.releaseDetached(ctx, key); err != nil {
		log.Error("failed to release dedup claim", slog.String("error", redact.Error(err)))
	}
}

// DeadlinePayload builds the push content for a task due within lookahead.
func DeadlinePayload(title string, lookahead time.Duration) PushPayload {
	return PushPayload{
		Title: DeadlineTitle,
		Body:  fmt.Sprintf("Your task \"%s\" is due in less than %s!", title, minutesPhrase(lookahead)),
		Sound: DefaultSound,
	}
}

// minutesPhrase renders a duration as whole minutes, rounding up.
func minutesPhrase(d time.Duration) string {
	minutes := int(math.Ceil(d.Minutes()))
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
