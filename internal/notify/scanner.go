package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/phrazzld/dotlist-notify/internal/redact"
	"github.com/phrazzld/dotlist-notify/internal/store"
	"github.com/phrazzld/dotlist-notify/internal/task"
)

// ScanReport summarizes one scan.
type ScanReport struct {
	ScanID    string
	StartedAt time.Time
	Duration  time.Duration

	Scanned            int
	Matched            int
	Dispatched         int
	SkippedAlreadySent int
	SkippedNoTarget    int
	SkippedNoUser      int
	InvalidTasks       int
	ParseErrors        int

	// Failed counts dispatches that returned a failure or panicked
	Failed int

	// Deferred counts matches left unprocessed when the scan context ended;
	// they are picked up by the next scan.
	Deferred int
}

// LogValue renders the report as a structured log group.
func (r ScanReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scan_id", r.ScanID),
		slog.Int64("duration_ms", r.Duration.Milliseconds()),
		slog.Int("scanned", r.Scanned),
		slog.Int("matched", r.Matched),
		slog.Int("dispatched", r.Dispatched),
		slog.Int("skipped_already_sent", r.SkippedAlreadySent),
		slog.Int("skipped_no_target", r.SkippedNoTarget),
		slog.Int("skipped_no_user", r.SkippedNoUser),
		slog.Int("invalid_tasks", r.InvalidTasks),
		slog.Int("parse_errors", r.ParseErrors),
		slog.Int("failed", r.Failed),
		slog.Int("deferred", r.Deferred),
	)
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Lookahead is the notification window length
	Lookahead time.Duration

	// WorkerCount bounds per-scan dispatch concurrency. Zero or negative
	// means the worker pool default.
	WorkerCount int

	// Retention is how long dedup records are kept after their window ends
	Retention time.Duration
}

// Scanner finds tasks whose deadline is approaching and dispatches them.
type Scanner struct {
	tasks      store.TaskStore
	users      store.UserStore
	dispatcher *Dispatcher
	dedup      *DedupTracker
	config     ScannerConfig
	logger     *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(
	tasks store.TaskStore,
	users store.UserStore,
	dispatcher *Dispatcher,
	dedup *DedupTracker,
	config ScannerConfig,
	logger *slog.Logger,
) *Scanner {
	if tasks == nil {
		panic("task store cannot be nil")
	}
	if users == nil {
		panic("user store cannot be nil")
	}
	if dispatcher == nil {
		panic("dispatcher cannot be nil")
	}
	if dedup == nil {
		panic("dedup tracker cannot be nil")
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = task.DefaultWorkerPoolConfig().WorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		tasks:      tasks,
		users:      users,
		dispatcher: dispatcher,
		dedup:      dedup,
		config:     config,
		logger:     logger.With(slog.String("component", "scanner")),
	}
}

// scanCounters accumulates per-task results from concurrent workers
type scanCounters struct {
	dispatched  atomic.Int64
	alreadySent atomic.Int64
	noTarget    atomic.Int64
	noUser      atomic.Int64
	failed      atomic.Int64
}

func (c *scanCounters) record(outcome DispatchOutcome) {
	switch outcome.Kind {
	case OutcomeSent:
		c.dispatched.Add(1)
	case OutcomeFailed:
		c.failed.Add(1)
	case OutcomeSkipped:
		switch outcome.Reason {
		case SkipAlreadySent:
			c.alreadySent.Add(1)
		case SkipNoTarget:
			c.noTarget.Add(1)
		case SkipNoUser:
			c.noUser.Add(1)
		}
	}
}

func (c *scanCounters) processed() int {
	return int(c.dispatched.Load() + c.alreadySent.Load() + c.noTarget.Load() +
		c.noUser.Load() + c.failed.Load())
}

// RunScan evaluates every incomplete task against the window ending
// lookahead after now and dispatches the matches. Per-task problems are
// counted in the report; only a failure to list tasks aborts the scan, and
// is returned as a *ScanError.
func (s *Scanner) RunScan(ctx context.Context, now time.Time) (ScanReport, error) {
	scanID := uuid.New().String()
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("scan_id", scanID))
	ctx = logger.WithLogger(ctx, log)

	report := ScanReport{ScanID: scanID, StartedAt: now}
	start := time.Now()

	tasks, err := s.tasks.QueryIncompleteTasks(ctx)
	if err != nil {
		log.Error("failed to query incomplete tasks", slog.String("error", redact.Error(err)))
		return report, &ScanError{Operation: "query_incomplete_tasks", Err: err}
	}
	report.Scanned = len(tasks)

	due := make([]domain.Task, 0)
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		if err := t.Validate(); err != nil {
			report.InvalidTasks++
			log.Warn("skipping malformed task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		deadline, err := t.DeadlineTime()
		if err != nil {
			report.ParseErrors++
			log.Warn("skipping task with unparseable deadline",
				slog.String("task_id", t.ID.String()),
				slog.String("deadline", t.Deadline),
				slog.String("error", err.Error()))
			continue
		}
		if IsDue(now, deadline, s.config.Lookahead) {
			due = append(due, t)
		}
	}
	report.Matched = len(due)

	var counters scanCounters
	if len(due) > 0 {
		s.fanOut(ctx, log, due, &counters)
	}

	report.Dispatched = int(counters.dispatched.Load())
	report.SkippedAlreadySent = int(counters.alreadySent.Load())
	report.SkippedNoTarget = int(counters.noTarget.Load())
	report.SkippedNoUser = int(counters.noUser.Load())
	report.Failed = int(counters.failed.Load())
	report.Deferred = report.Matched - counters.processed()
	report.Duration = time.Since(start)

	if report.Deferred > 0 {
		log.Warn("scan ended before all matches were processed",
			slog.Int("deferred", report.Deferred),
			slog.Any("cause", ctx.Err()))
	}
	log.Info("scan completed", slog.Any("report", report))
	return report, nil
}

// fanOut runs one dispatch per due task on a bounded worker pool and waits
// for all of them.
func (s *Scanner) fanOut(ctx context.Context, log *slog.Logger, due []domain.Task, counters *scanCounters) {
	queue := task.NewTaskQueue(len(due), log)
	for _, t := range due {
		unit := task.Func{
			TaskID:   t.ID,
			TaskType: task.TaskTypeDeadlineDispatch,
			Fn: func(ctx context.Context) error {
				outcome := s.dispatchOne(ctx, t)
				counters.record(outcome)
				if outcome.Kind == OutcomeFailed {
					return outcome.Err
				}
				return nil
			},
		}
		if err := queue.Enqueue(unit); err != nil {
			// Capacity equals len(due); reaching this means a programming error
			log.Error("failed to enqueue dispatch", slog.String("task_id", t.ID.String()), slog.String("error", err.Error()))
		}
	}
	queue.Close()

	pool := task.NewWorkerPool(ctx, queue, task.WorkerPoolConfig{WorkerCount: s.config.WorkerCount}, log)
	// A panicking dispatch never reaches counters.record; the pool recovers it
	// and reports it here. The dispatcher has already released its claim.
	pool.SetErrorHandler(func(_ task.Task, err error) {
		if errors.Is(err, task.ErrTaskPanicked) {
			counters.failed.Add(1)
		}
	})
	pool.Start()
	pool.Wait()
}

// dispatchOne resolves the task's owner and dispatches it
func (s *Scanner) dispatchOne(ctx context.Context, t domain.Task) DispatchOutcome {
	user, err := s.users.GetUser(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return s.dispatcher.Dispatch(ctx, t, nil)
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to resolve task owner",
			slog.String("task_id", t.ID.String()),
			slog.String("user_id", t.UserID.String()),
			slog.String("error", redact.Error(err)))
		return Failed(err)
	}
	return s.dispatcher.Dispatch(ctx, t, user)
}

// Prune removes dedup records whose window ended more than the retention
// horizon before now.
func (s *Scanner) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.config.Retention)
	n, err := s.dedup.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("pruned dedup records",
			slog.Int64("removed", n),
			slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunCycle performs a scan followed by a prune. It is the job run by the
// scheduler on every tick. A failed prune is logged and does not fail the
// cycle.
func (s *Scanner) RunCycle(ctx context.Context, now time.Time) error {
	if _, err := s.RunScan(ctx, now); err != nil {
		return err
	}
	if _, err := s.Prune(ctx, now); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to prune dedup records",
			slog.String("error", redact.Error(err)))
	}
	return nil
}
