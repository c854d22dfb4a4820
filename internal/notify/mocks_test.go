package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/platform/memory"
	"github.com/phrazzld/dotlist-notify/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeTaskStore is an in-memory store.TaskStore
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (s *fakeTaskStore) QueryIncompleteTasks(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.Completed {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, t := range s.tasks {
		if t.ID == id {
			found := t
			return &found, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

// fakeUserStore is an in-memory store.UserStore
type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
	err   error
}

func newFakeUserStore(users ...*domain.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// takeOne decrements n if it is positive and reports whether it did
func takeOne(n *atomic.Int32) bool {
	for {
		v := n.Load()
		if v <= 0 {
			return false
		}
		if n.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

type pushCall struct {
	token   string
	payload PushPayload
}

// fakePushSender records sends and can fail, block or panic them
type fakePushSender struct {
	mu      sync.Mutex
	calls   []pushCall
	err     error
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32

	// panics is how many upcoming sends panic instead of delivering
	panics atomic.Int32
}

func (p *fakePushSender) Send(ctx context.Context, token string, payload PushPayload) (string, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if takeOne(&p.panics) {
		panic("push transport crashed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{token: token, payload: payload})
	if p.err != nil {
		return "", p.err
	}
	return "projects/test/messages/" + uuid.NewString(), nil
}

func (p *fakePushSender) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePushSender) lastCall() pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type mailCall struct {
	from, to, subject, body string
}

// fakeMailer records emails and can fail or panic them
type fakeMailer struct {
	mu     sync.Mutex
	calls  []mailCall
	err    error
	panics atomic.Int32
}

func (m *fakeMailer) SendMail(ctx context.Context, from, to, subject, body string) (string, error) {
	if takeOne(&m.panics) {
		panic("smtp client crashed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mailCall{from: from, to: to, subject: subject, body: body})
	if m.err != nil {
		return "", m.err
	}
	return "<" + uuid.NewString() + "@test>", nil
}

func (m *fakeMailer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// flakyDedupStore wraps a memory store and fails selected operations
type flakyDedupStore struct {
	*memory.DedupStore
	claimErr   error
	confirmErr error
	deleteErr  error
	pruneErr   error
}

func newFlakyDedupStore() *flakyDedupStore {
	return &flakyDedupStore{DedupStore: memory.NewDedupStore()}
}

func (s *flakyDedupStore) Claim(ctx context.Context, rec domain.DedupRecord, lease time.Duration) (bool, error) {
	if s.claimErr != nil {
		return false, s.claimErr
	}
	return s.DedupStore.Claim(ctx, rec, lease)
}

func (s *flakyDedupStore) Confirm(ctx context.Context, rec domain.DedupRecord) error {
	if s.confirmErr != nil {
		return s.confirmErr
	}
	return s.DedupStore.Confirm(ctx, rec)
}

func (s *flakyDedupStore) Delete(ctx context.Context, key domain.DedupKey) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.DedupStore.Delete(ctx, key)
}

func (s *flakyDedupStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.pruneErr != nil {
		return 0, s.pruneErr
	}
	return s.DedupStore.PruneBefore(ctx, cutoff)
}

var errTransport = errors.New("transport unavailable")

// newUser returns a user with both contact methods
func newUser() *domain.User {
	return &domain.User{
		ID:    uuid.New(),
		Token: "fcm-token-abcdefghijklmnop",
		Email: "owner@example.com",
	}
}

// newTask returns an incomplete task owned by userID due at deadline
func newTask(userID uuid.UUID, title string, deadline time.Time) domain.Task {
	return domain.Task{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    title,
		Deadline: deadline.Format(time.RFC3339),
	}
}
