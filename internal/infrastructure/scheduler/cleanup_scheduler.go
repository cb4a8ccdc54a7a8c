package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultCleanupSpec = "@every 24h"

// TaskCleanup names scheduled runs in logs and profiles
const TaskCleanup = "cleanup"

// Task is the work a CleanupScheduler fires
type Task func(ctx context.Context) error

// OnlineChecker reports whether the backend is currently reachable
type OnlineChecker interface {
	IsOnline() bool
}

// CleanupStatus is a snapshot of the scheduler's history
// @name CleanupStatus
type CleanupStatus struct {
	Running     bool       `json:"running"`
	Schedule    string     `json:"schedule"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSkipped *time.Time `json:"last_skipped,omitempty"`
	Runs        int        `json:"runs"`
	Skips       int        `json:"skips"`
	LastError   string     `json:"last_error,omitempty"`
}

// CleanupScheduler fires a Task on a cron schedule, but only when the backend
// is online at fire time. Offline ticks are skipped, not queued.
type CleanupScheduler struct {
	task    Task
	online  OnlineChecker
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
	status  CleanupStatus
}

// CleanupOption configures a CleanupScheduler
type CleanupOption func(*CleanupScheduler)

// WithCron injects a cron instance, mainly for tests
func WithCron(c *cron.Cron) CleanupOption {
	return func(s *CleanupScheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule sets the cron spec, e.g. "@every 24h" or "0 3 * * *"
func WithSchedule(spec string) CleanupOption {
	return func(s *CleanupScheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithTaskTimeout bounds one run of the task
func WithTaskTimeout(d time.Duration) CleanupOption {
	return func(s *CleanupScheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock used for status timestamps
func WithClock(now func() time.Time) CleanupOption {
	return func(s *CleanupScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCleanupScheduler creates a scheduler for task
func NewCleanupScheduler(task Task, online OnlineChecker, logger *zap.Logger, opts ...CleanupOption) *CleanupScheduler {
	s := &CleanupScheduler{
		task:    task,
		online:  online,
		spec:    defaultCleanupSpec,
		timeout: 2 * time.Minute,
		logger:  logger.Named("cleanup"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	s.status.Schedule = s.spec
	return s
}

// Start registers the task and starts the cron loop
func (s *CleanupScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.task == nil {
		return ErrNoTask
	}

	id, err := s.cron.AddFunc(s.spec, s.tick)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, s.spec, err)
	}
	s.entry = id
	s.running = true
	s.status.Running = true
	s.cron.Start()

	s.logger.Info("Cleanup scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop stops the cron loop and waits for a running task, bounded by ctx
func (s *CleanupScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.status.Running = false
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Cleanup scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CleanupScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx, log := logger.WithTask(ctx, s.logger, TaskCleanup)
	telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelTask: TaskCleanup}, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Warn("Scheduled cleanup failed", zap.Error(err))
		}
	})
}

// RunOnce runs the task now if the backend is online. It reports whether the
// task ran.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (bool, error) {
	if s.online != nil && !s.online.IsOnline() {
		now := s.now()
		s.mu.Lock()
		s.status.Skips++
		s.status.LastSkipped = &now
		s.mu.Unlock()
		s.logger.Debug("Backend offline, skipping cleanup")
		return false, nil
	}

	err := s.task(ctx)

	now := s.now()
	s.mu.Lock()
	s.status.Runs++
	s.status.LastRun = &now
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
	return true, err
}

// Status returns a snapshot of the scheduler
func (s *CleanupScheduler) Status() CleanupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if s.running {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}
