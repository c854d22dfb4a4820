package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/phrazzld/dotlist-notify/internal/platform/memory"
	"github.com/phrazzld/dotlist-notify/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scanNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type scanFixture struct {
	tasks   *fakeTaskStore
	users   *fakeUserStore
	push    *fakePushSender
	dedup   *memory.DedupStore
	scanner *Scanner
}

func newScanFixture(t *testing.T, users ...*domain.User) *scanFixture {
	t.Helper()

	f := &scanFixture{
		tasks: &fakeTaskStore{},
		users: newFakeUserStore(users...),
		push:  &fakePushSender{},
		dedup: memory.NewDedupStore(),
	}
	tracker := NewDedupTracker(f.dedup)
	dispatcher := NewDispatcher(f.push, tracker, DispatcherConfig{
		Lookahead:   5 * time.Minute,
		MaxInFlight: 4,
	}, testLogger())
	f.scanner = NewScanner(f.tasks, f.users, dispatcher, tracker, ScannerConfig{
		Lookahead:   5 * time.Minute,
		WorkerCount: 3,
		Retention:   24 * time.Hour,
	}, testLogger())
	return f
}

func TestRunScan_WindowBoundaries(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)

	dueEarly := newTask(user.ID, "due 12:04:59", scanNow.Add(4*time.Minute+59*time.Second))
	dueEdge := newTask(user.ID, "due 12:05:00", scanNow.Add(5*time.Minute))
	tooLate := newTask(user.ID, "due 12:05:01", scanNow.Add(5*time.Minute+time.Second))
	overdue := newTask(user.ID, "due 11:59:59", scanNow.Add(-time.Second))
	f.tasks.tasks = []domain.Task{dueEarly, dueEdge, tooLate, overdue}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Deferred)
	assert.NotEmpty(t, report.ScanID)
	assert.Equal(t, 2, f.push.callCount())

	for _, due := range []domain.Task{dueEarly, dueEdge} {
		deadline, err := due.DeadlineTime()
		require.NoError(t, err)
		exists, err := f.dedup.Exists(context.Background(), domain.DeadlineKey(due.ID, deadline))
		require.NoError(t, err)
		assert.True(t, exists, "task %q should be recorded", due.Title)
	}
}

func TestRunScan_IsIdempotentAcrossScans(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.tasks.tasks = []domain.Task{newTask(user.ID, "once", scanNow.Add(3*time.Minute))}

	first, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)
	second, err := f.scanner.RunScan(context.Background(), scanNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, 0, second.Dispatched)
	assert.Equal(t, 1, second.SkippedAlreadySent)
	assert.Equal(t, 1, f.push.callCount())
}

func TestRunScan_CompletedTasksNeverMatch(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	done := newTask(user.ID, "done", scanNow.Add(time.Minute))
	done.Completed = true
	f.tasks.tasks = []domain.Task{done}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Matched)
	assert.Equal(t, 0, f.push.callCount())
}

// completedLeakStore returns completed tasks despite the query contract
type completedLeakStore struct {
	fakeTaskStore
}

func (s *completedLeakStore) QueryIncompleteTasks(ctx context.Context) ([]domain.Task, error) {
	return s.tasks, nil
}

func TestRunScan_SkipsCompletedTasksFromStore(t *testing.T) {
	user := newUser()
	push := &fakePushSender{}
	tracker := NewDedupTracker(memory.NewDedupStore())
	dispatcher := NewDispatcher(push, tracker, DispatcherConfig{Lookahead: 5 * time.Minute}, testLogger())

	done := newTask(user.ID, "done", scanNow.Add(time.Minute))
	done.Completed = true
	tasks := &completedLeakStore{fakeTaskStore{tasks: []domain.Task{done}}}
	scanner := NewScanner(tasks, newFakeUserStore(user), dispatcher, tracker,
		ScannerConfig{Lookahead: 5 * time.Minute, WorkerCount: 1}, testLogger())

	report, err := scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Matched)
	assert.Equal(t, 0, push.callCount())
}

func TestRunScan_ParseErrorsDoNotBlockOtherTasks(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	bad := newTask(user.ID, "bad", scanNow)
	bad.Deadline = "not a date"
	empty := newTask(user.ID, "empty", scanNow)
	empty.Deadline = ""
	good := newTask(user.ID, "good", scanNow.Add(2*time.Minute))
	f.tasks.tasks = []domain.Task{bad, good, empty}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ParseErrors)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, f.push.callCount())
}

func TestRunScan_MalformedTasksAreCounted(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	orphan := newTask(uuid.Nil, "no owner", scanNow.Add(time.Minute))
	good := newTask(user.ID, "good", scanNow.Add(time.Minute))
	f.tasks.tasks = []domain.Task{orphan, good}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.InvalidTasks)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Dispatched)
}

func TestRunScan_PanickingSenderIsRetriedNextScan(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.push.panics.Store(1)
	f.tasks.tasks = []domain.Task{newTask(user.ID, "crashes once", scanNow.Add(2*time.Minute))}

	first, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 0, first.Dispatched)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 0, first.Deferred)
	assert.Equal(t, 0, f.dedup.Len(), "the crashed send must not keep its claim")

	second, err := f.scanner.RunScan(context.Background(), scanNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, second.Dispatched)
	assert.Equal(t, 0, second.SkippedAlreadySent)
	assert.Equal(t, 1, f.push.callCount())
}

func TestRunScan_TakesOverClaimOfDeadSender(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	due := newTask(user.ID, "claimed then killed", scanNow.Add(2*time.Minute))
	f.tasks.tasks = []domain.Task{due}
	deadline, err := due.DeadlineTime()
	require.NoError(t, err)

	// A process claimed this window and was killed before sending
	claimed, err := f.dedup.Claim(context.Background(), domain.DedupRecord{
		Key:       domain.DeadlineKey(due.ID, deadline),
		Channel:   domain.ChannelPush,
		ClaimedAt: time.Now().Add(-DefaultClaimLease - time.Minute),
		WindowEnd: deadline,
	}, DefaultClaimLease)
	require.NoError(t, err)
	require.True(t, claimed)

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, f.push.callCount())
	rec, _ := f.dedup.Get(domain.DeadlineKey(due.ID, deadline))
	assert.Equal(t, domain.DedupSent, rec.Status)
}

func TestNewScanner_DefaultsWorkerCount(t *testing.T) {
	tracker := NewDedupTracker(memory.NewDedupStore())
	dispatcher := NewDispatcher(&fakePushSender{}, tracker, DispatcherConfig{}, testLogger())

	s := NewScanner(&fakeTaskStore{}, newFakeUserStore(), dispatcher, tracker, ScannerConfig{}, testLogger())

	assert.Equal(t, 4, s.config.WorkerCount)
}

func TestRunScan_AcceptsStoredDeadlineFormats(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)

	local := newTask(user.ID, "zone-less", scanNow)
	local.Deadline = "2024-01-01T12:02"
	spaced := newTask(user.ID, "space separated", scanNow)
	spaced.Deadline = "2024-01-01 12:03:00"
	offset := newTask(user.ID, "offset", scanNow)
	offset.Deadline = "2024-01-01T14:04:00+02:00"
	f.tasks.tasks = []domain.Task{local, spaced, offset}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 3, report.Dispatched)
}

func TestRunScan_MissingUserAndTarget(t *testing.T) {
	withToken := newUser()
	noToken := newUser()
	noToken.Token = ""
	f := newScanFixture(t, withToken, noToken)

	f.tasks.tasks = []domain.Task{
		newTask(withToken.ID, "ok", scanNow.Add(time.Minute)),
		newTask(noToken.ID, "no token", scanNow.Add(time.Minute)),
		newTask(uuid.New(), "no user", scanNow.Add(time.Minute)),
	}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.SkippedNoTarget)
	assert.Equal(t, 1, report.SkippedNoUser)
	assert.Equal(t, 1, f.dedup.Len(), "only the sent task is recorded")
}

func TestRunScan_PerTaskFailuresAreIsolated(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.push.err = errTransport
	f.tasks.tasks = []domain.Task{
		newTask(user.ID, "a", scanNow.Add(time.Minute)),
		newTask(user.ID, "b", scanNow.Add(2*time.Minute)),
	}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, report.Dispatched)
	assert.Equal(t, 0, f.dedup.Len(), "failed sends are retried next scan")
}

func TestRunScan_UserStoreErrorCountsAsFailed(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.users.err = errors.New("connection reset")
	f.tasks.tasks = []domain.Task{newTask(user.ID, "a", scanNow.Add(time.Minute))}

	report, err := f.scanner.RunScan(context.Background(), scanNow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, f.push.callCount())
}

func TestRunScan_QueryFailureAbortsScan(t *testing.T) {
	f := newScanFixture(t)
	queryErr := errors.New("relation todos does not exist")
	f.tasks.err = queryErr

	_, err := f.scanner.RunScan(context.Background(), scanNow)

	require.Error(t, err)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, "query_incomplete_tasks", scanErr.Operation)
	assert.ErrorIs(t, err, queryErr)
}

func TestRunScan_OverlappingScansSendOnce(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.push.delay = 5 * time.Millisecond
	f.tasks.tasks = []domain.Task{newTask(user.ID, "contended", scanNow.Add(time.Minute))}

	var wg sync.WaitGroup
	reports := make([]ScanReport, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.scanner.RunScan(context.Background(), scanNow)
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	dispatched, skipped := 0, 0
	for _, r := range reports {
		dispatched += r.Dispatched
		skipped += r.SkippedAlreadySent
	}
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, 1, f.push.callCount())
}

func TestRunScan_CancelledContextDefersMatches(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.tasks.tasks = []domain.Task{
		newTask(user.ID, "a", scanNow.Add(time.Minute)),
		newTask(user.ID, "b", scanNow.Add(time.Minute)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.scanner.RunScan(ctx, scanNow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 2, report.Deferred)
	assert.Equal(t, 0, f.push.callCount())
	assert.Equal(t, 0, f.dedup.Len())
}

func TestRunScan_LogsScanID(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	ctx, buf := logger.NewTestContext(t)

	report, err := f.scanner.RunScan(ctx, scanNow)
	require.NoError(t, err)

	logger.AssertLogContains(t, buf, "scan completed")
	logger.AssertLogField(t, buf, "scan_id", report.ScanID)
}

func TestPrune(t *testing.T) {
	f := newScanFixture(t)
	ctx := context.Background()

	stale := domain.DedupRecord{
		Key:       domain.DeadlineKey(uuid.New(), scanNow.Add(-25*time.Hour)),
		WindowEnd: scanNow.Add(-25 * time.Hour),
	}
	fresh := domain.DedupRecord{
		Key:       domain.DeadlineKey(uuid.New(), scanNow.Add(-time.Hour)),
		WindowEnd: scanNow.Add(-time.Hour),
	}
	for _, rec := range []domain.DedupRecord{stale, fresh} {
		require.NoError(t, f.dedup.Confirm(ctx, rec))
	}

	removed, err := f.scanner.Prune(ctx, scanNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, f.dedup.Len())
}

func TestRunCycle(t *testing.T) {
	user := newUser()
	f := newScanFixture(t, user)
	f.tasks.tasks = []domain.Task{newTask(user.ID, "a", scanNow.Add(time.Minute))}

	require.NoError(t, f.scanner.RunCycle(context.Background(), scanNow))
	assert.Equal(t, 1, f.push.callCount())

	f.tasks.err = store.ErrUnavailable
	err := f.scanner.RunCycle(context.Background(), scanNow)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRunCycle_PruneFailureIsNotFatal(t *testing.T) {
	user := newUser()
	push := &fakePushSender{}
	s := newFlakyDedupStore()
	s.pruneErr = errors.New("prune failed")
	tracker := NewDedupTracker(s)
	dispatcher := NewDispatcher(push, tracker, DispatcherConfig{Lookahead: 5 * time.Minute}, testLogger())
	scanner := NewScanner(&fakeTaskStore{}, newFakeUserStore(user), dispatcher, tracker,
		ScannerConfig{Lookahead: 5 * time.Minute, Retention: time.Hour}, testLogger())

	assert.NoError(t, scanner.RunCycle(context.Background(), scanNow))
}
