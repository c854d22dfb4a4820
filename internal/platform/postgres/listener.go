package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/dotlist-notify/internal/events"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	"github.com/sethvargo/go-retry"
)

// DefaultNotifyChannel is the channel the todos insert trigger notifies on.
const DefaultNotifyChannel = "todo_created"

// notificationConn is the subset of *pgx.Conn the listener needs
type notificationConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener turns Postgres notifications on a channel into TaskCreatedEvents.
// It holds a dedicated connection outside the database/sql pool, since
// LISTEN state is per connection.
type Listener struct {
	channel string
	emitter events.EventEmitter
	logger  *slog.Logger
	connect func(ctx context.Context) (notificationConn, error)

	// reconnect backoff bounds
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewListener creates a Listener that connects with connString.
func NewListener(connString, channel string, emitter events.EventEmitter, logger *slog.Logger) *Listener {
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		channel: channel,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "pg_listener"), slog.String("channel", channel)),
		connect: func(ctx context.Context) (notificationConn, error) {
			return pgx.Connect(ctx, connString)
		},
		baseDelay: 500 * time.Millisecond,
		maxDelay:  30 * time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff
// when the connection drops. Notifications sent while disconnected are lost;
// the deadline scan does not depend on them.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("starting notification listener")

	for {
		conn, err := l.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = l.listen(ctx, conn)

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if cerr := conn.Close(closeCtx); cerr != nil {
			l.logger.Debug("failed to close listener connection", slog.String("error", cerr.Error()))
		}
		cancel()

		if ctx.Err() != nil {
			l.logger.Info("notification listener stopped")
			return nil
		}
		l.logger.Warn("listener connection lost, reconnecting", slog.String("error", redact.Error(err)))
	}
}

// connectWithRetry opens a connection and issues LISTEN, backing off on failure
func (l *Listener) connectWithRetry(ctx context.Context) (notificationConn, error) {
	backoff := retry.WithCappedDuration(l.maxDelay, retry.NewExponential(l.baseDelay))

	var conn notificationConn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := l.connect(ctx)
		if err != nil {
			l.logger.Warn("failed to connect listener", slog.String("error", redact.Error(err)))
			return retry.RetryableError(err)
		}

		if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
			_ = c.Close(ctx)
			l.logger.Warn("failed to LISTEN", slog.String("error", redact.Error(err)))
			return retry.RetryableError(err)
		}

		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start listening on %s: %w", l.channel, err)
	}

	l.logger.Info("listening for notifications")
	return conn, nil
}

// listen forwards notifications until the connection fails or ctx ends
func (l *Listener) listen(ctx context.Context, conn notificationConn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n)
	}
}

// handle converts one notification and emits it. Bad payloads and handler
// failures are logged; neither stops the listener.
func (l *Listener) handle(ctx context.Context, n *pgconn.Notification) {
	if n.Channel != l.channel {
		return
	}

	event, err := events.ParseTaskCreated([]byte(n.Payload), events.SourcePostgres)
	if err != nil {
		l.logger.Warn("ignoring malformed notification",
			slog.String("payload", n.Payload),
			slog.String("error", err.Error()))
		return
	}

	if err := l.emitter.EmitEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("failed to handle task created event",
			slog.String("task_id", event.TaskID.String()),
			slog.String("error", redact.Error(err)))
	}
}
