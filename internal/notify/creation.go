package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/events"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

// Creation email content
const CreationSubject = "New Task Added on DotList!"

// Mailer submits a plain-text email and returns the transport's receipt.
type Mailer interface {
	SendMail(ctx context.Context, from, to, subject, body string) (string, error)
}

// Verify interface compliance at compile time
var _ events.EventHandler = (*CreationNotifier)(nil)

// CreationNotifier emails a task's owner when the task is created.
type CreationNotifier struct {
	tasks  store.TaskStore
	users  store.UserStore
	mailer Mailer
	dedup  *DedupTracker
	from   string
	logger *slog.Logger
	clock  func() time.Time
}

// NewCreationNotifier creates a CreationNotifier sending from the given address.
func NewCreationNotifier(
	tasks store.TaskStore,
	users store.UserStore,
	mailer Mailer,
	dedup *DedupTracker,
	from string,
	logger *slog.Logger,
) *CreationNotifier {
	if tasks == nil {
		panic("task store cannot be nil")
	}
	if users == nil {
		panic("user store cannot be nil")
	}
	if mailer == nil {
		panic("mailer cannot be nil")
	}
	if dedup == nil {
		panic("dedup tracker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CreationNotifier{
		tasks:  tasks,
		users:  users,
		mailer: mailer,
		dedup:  dedup,
		from:   from,
		logger: logger.With(slog.String("component", "creation_notifier")),
		clock:  time.Now,
	}
}

// HandleEvent loads the created task and notifies its owner. A task that no
// longer exists is skipped.
func (n *CreationNotifier) HandleEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	log := logger.FromContextOrDefault(ctx, n.logger).With(
		slog.String("event_id", event.ID.String()),
		slog.String("task_id", event.TaskID.String()))

	t, err := n.tasks.GetTask(ctx, event.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			log.Warn("created task not found, skipping notification")
			return nil
		}
		return fmt.Errorf("failed to load created task: %w", err)
	}

	return n.OnTaskCreated(logger.WithLogger(ctx, log), *t)
}

// OnTaskCreated emails the owner of a newly created task. A missing owner or
// email address is logged and skipped. Duplicate deliveries of the same
// creation are absorbed by the dedup claim.
func (n *CreationNotifier) OnTaskCreated(ctx context.Context, t domain.Task) error {
	log := logger.FromContextOrDefault(ctx, n.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("user_id", t.UserID.String()))

	user, err := n.users.GetUser(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Info("skipping creation email", slog.String("reason", ErrNoUser.Error()))
			return nil
		}
		return fmt.Errorf("failed to resolve task owner: %w", err)
	}
	if !user.HasEmail() {
		log.Info("skipping creation email", slog.String("reason", ErrNoEmail.Error()))
		return nil
	}
	if err := user.ValidateEmail(); err != nil {
		log.Warn("skipping creation email",
			slog.String("to", redact.Email(user.Email)),
			slog.String("reason", err.Error()))
		return nil
	}

	rec := domain.DedupRecord{
		Key:       domain.CreationKey(t.ID),
		Channel:   domain.ChannelEmail,
		ClaimedAt: n.clock().UTC(),
	}
	rec.WindowEnd = rec.ClaimedAt

	claimed, err := n.dedup.Claim(ctx, rec)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("creation email already sent")
		return nil
	}

	sent := false
	defer func() {
		if sent {
			return
		}
		if relErr := n.dedup.releaseDetached(ctx, rec.Key); relErr != nil {
			log.Error("failed to release dedup claim", slog.String("error", redact.Error(relErr)))
		}
	}()

	receipt, err := n.mailer.SendMail(ctx, n.from, user.Email, CreationSubject, CreationBody(t.Title))
	if err != nil {
		log.Error("creation email failed",
			slog.String("to", redact.Email(user.Email)),
			slog.String("error", redact.Error(err)))
		return errors.Join(ErrDeliveryFailed, err)
	}
	sent = true

	rec.SentAt = n.clock().UTC()
	rec.WindowEnd = rec.SentAt
	if err := n.dedup.confirmDetached(ctx, rec); err != nil {
		log.Error("failed to confirm dedup record", slog.String("error", redact.Error(err)))
	}

	log.Info("creation email sent",
		slog.String("to", redact.Email(user.Email)),
		slog.String("receipt", receipt))
	return nil
}

// CreationBody builds the creation email body.
func CreationBody(title string) string {
	return fmt.Sprintf("You have successfully added a new task: \"%s\".", title)
}
