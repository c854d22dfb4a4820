package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
)

// ErrSchedulerRunning is returned by Start when the scheduler was already started.
var ErrSchedulerRunning = errors.New("scheduler already running")

// ScheduledFunc is the job fired on every tick. now is the tick's wall-clock time.
type ScheduledFunc func(ctx context.Context, now time.Time) error

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// Interval between two runs
	Interval time.Duration

	// Timeout bounds a single run. Zero means no bound.
	Timeout time.Duration

	// RunOnStart fires one run immediately instead of waiting a full interval
	RunOnStart bool
}

// Scheduler fires a job on a fixed cadence. Each tick runs in its own
// goroutine, so a slow run does not delay the next tick and two runs may
// overlap; the job must tolerate that.
type Scheduler struct {
	name   string
	fn     ScheduledFunc
	config SchedulerConfig
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for fn. A non-positive interval defaults
// to one minute.
func NewScheduler(name string, fn ScheduledFunc, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	return &Scheduler{
		name:   name,
		fn:     fn,
		config: config,
		logger: logger.With("component", "scheduler", "job", name),
		clock:  time.Now,
	}
}

// Start begins firing the job in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started",
		"interval", s.config.Interval.String(),
		"timeout", s.config.Timeout.String())
	return nil
}

// Stop halts the ticker, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow performs a single synchronous run using ctx.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx, s.clock())
}

// loop fires runs until the scheduler is stopped
func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.fire(s.clock())
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.fire(s.clock())
		}
	}
}

// fire starts one run in its own goroutine
func (s *Scheduler) fire(now time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(s.ctx, now); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}()
}

// run executes the job once with a correlation ID and optional timeout
func (s *Scheduler) run(parent context.Context, now time.Time) (err error) {
	ctx := parent
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.config.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()
	runLogger := s.logger.With("run_id", runID)
	ctx = logger.WithLogger(ctx, runLogger)
	ctx = logger.WithRequestID(ctx, runID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	start := time.Now()
	err = s.fn(ctx, now)
	runLogger.Debug("scheduled run finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil)
	return err
}
