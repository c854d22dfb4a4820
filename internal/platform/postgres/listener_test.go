package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/dotlist-notify/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn delivers notifications pushed onto its channel
type fakeConn struct {
	notifications chan *pgconn.Notification
	failAfter     chan struct{}

	mu     sync.Mutex
	execs  []string
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		notifications: make(chan *pgconn.Notification, 10),
		failAfter:     make(chan struct{}),
	}
}

func (c *fakeConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-c.notifications:
		return n, nil
	case <-c.failAfter:
		return nil, errors.New("conn closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// recordingEmitter collects emitted events
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskCreatedEvent
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func newTestListener(emitter events.EventEmitter, connect func(ctx context.Context) (notificationConn, error)) *Listener {
	l := NewListener("postgres://unused", DefaultNotifyChannel, emitter,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.connect = connect
	l.baseDelay = time.Millisecond
	l.maxDelay = 5 * time.Millisecond
	return l
}

func TestListener_ForwardsNotifications(t *testing.T) {
	conn := newFakeConn()
	emitter := &recordingEmitter{}
	l := newTestListener(emitter, func(ctx context.Context) (notificationConn, error) {
		return conn, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	taskID := uuid.New()
	conn.notifications <- &pgconn.Notification{Channel: "other", Payload: uuid.NewString()}
	conn.notifications <- &pgconn.Notification{Channel: DefaultNotifyChannel, Payload: "garbage"}
	conn.notifications <- &pgconn.Notification{
		Channel: DefaultNotifyChannel,
		Payload: `{"task_id":"` + taskID.String() + `"}`,
	}

	require.Eventually(t, func() bool { return emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	assert.Equal(t, taskID, emitter.events[0].TaskID)
	assert.Equal(t, events.SourcePostgres, emitter.events[0].Source)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []string{`LISTEN "todo_created"`}, conn.execs)
	assert.True(t, conn.closed)
}

func TestListener_RetriesConnect(t *testing.T) {
	conn := newFakeConn()
	var attempts atomic.Int32
	l := newTestListener(&recordingEmitter{}, func(ctx context.Context) (notificationConn, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.execs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), attempts.Load())
}

func TestListener_ReconnectsAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	var attempts atomic.Int32
	emitter := &recordingEmitter{}
	l := newTestListener(emitter, func(ctx context.Context) (notificationConn, error) {
		if attempts.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	close(first.failAfter)
	second.notifications <- &pgconn.Notification{Channel: DefaultNotifyChannel, Payload: uuid.NewString()}

	require.Eventually(t, func() bool { return emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), attempts.Load())
	first.mu.Lock()
	assert.True(t, first.closed)
	first.mu.Unlock()
}

func TestListener_StopsWhileConnecting(t *testing.T) {
	l := newTestListener(&recordingEmitter{}, func(ctx context.Context) (notificationConn, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, l.Run(ctx))
}
