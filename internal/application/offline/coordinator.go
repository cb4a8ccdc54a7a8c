package offline

import (
	"context"
	"sync"
	"time"

	"github.com/erp/offline/internal/infrastructure/connectivity"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/infrastructure/scheduler"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Coordinator
type State string

// Coordinator states
const (
	StateUninitialized State = "uninitialized"
	StateMigrating     State = "migrating"
	StateWaiting       State = "waiting"
	StatePreloading    State = "preloading"
	StateCleaningUp    State = "cleaning_up"
	StateIdle          State = "idle"
	StateSteady        State = "steady"
	StateStopped       State = "stopped"
)

// Background task names, used as the task log field and profiling label
const (
	TaskStartup = "startup"
	TaskReplay  = "replay"
)

// Defaults of the coordinator
const (
	DefaultStartupDelay      = 2 * time.Second
	DefaultBackgroundTimeout = 2 * time.Minute
)

// Connectivity tells whether the backend is reachable and publishes changes
type Connectivity interface {
	IsOnline() bool
	Subscribe(h connectivity.Handler) (unsubscribe func())
}

// Coordinator runs the one-time offline initialization: migrate the store,
// wait, then preload and clean up if the backend is reachable. Afterwards it
// keeps a cleanup schedule and replays pending operations whenever the
// backend comes back.
//
// The coordinator is owned by whoever creates it. Start runs at most once per
// instance and Close tears it down.
type Coordinator struct {
	manager           *CacheManager
	conn              Connectivity
	logger            *zap.Logger
	startupDelay      time.Duration
	backgroundTimeout time.Duration
	schedulerOpts     []scheduler.CleanupOption
	scheduler         *scheduler.CleanupScheduler
	now               func() time.Time

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.RWMutex
	state       State
	startedAt   *time.Time
	lastSync    *SyncResult
	unsubscribe func()
	closed      bool
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithStartupDelay sets the pause between migration and preload
func WithStartupDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.startupDelay = d
		}
	}
}

// WithBackgroundTimeout bounds each background preload, cleanup or replay
func WithBackgroundTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.backgroundTimeout = d
		}
	}
}

// WithSchedulerOptions configures the cleanup scheduler
func WithSchedulerOptions(opts ...scheduler.CleanupOption) CoordinatorOption {
	return func(c *Coordinator) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	}
}

// NewCoordinator creates a Coordinator in StateUninitialized
func NewCoordinator(manager *CacheManager, conn Connectivity, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		manager:           manager,
		conn:              conn,
		logger:            logger.Named("coordinator"),
		startupDelay:      DefaultStartupDelay,
		backgroundTimeout: DefaultBackgroundTimeout,
		now:               time.Now,
		state:             StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}

	schedulerOpts := append([]scheduler.CleanupOption{scheduler.WithTaskTimeout(c.backgroundTimeout)}, c.schedulerOpts...)
	c.scheduler = scheduler.NewCleanupScheduler(c.scheduledCleanup, conn, logger, schedulerOpts...)
	return c
}

// Start launches the initialization in the background and returns. Only the
// first call does anything. ctx carries values only; its cancellation does
// not stop the coordinator, Close does.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		now := c.now()
		c.startedAt = &now
		c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
		c.wg.Add(1)
		c.mu.Unlock()

		go func() {
			defer c.wg.Done()
			c.initialize()
		}()
	})
}

func (c *Coordinator) initialize() {
	c.setState(StateMigrating)
	migrateCtx, cancel := c.taskContext()
	migrateCtx, log := logger.WithTask(migrateCtx, c.logger, TaskStartup)
	if err := c.manager.MigrateDatabase(migrateCtx); err != nil {
		log.Error("Local store migration failed, continuing with the cache as is", zap.Error(err))
	}
	cancel()

	c.setState(StateWaiting)
	timer := time.NewTimer(c.startupDelay)
	select {
	case <-timer.C:
	case <-c.ctx.Done():
		timer.Stop()
		return
	}

	// subscribe before reading IsOnline so a transition in between is not lost
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.unsubscribe = c.conn.Subscribe(c.onConnectivityChange)
	c.mu.Unlock()

	if c.conn.IsOnline() {
		ctx, cancel := c.taskContext()
		ctx, log := logger.WithTask(ctx, c.logger, TaskStartup)
		telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelTask: TaskStartup}, func(ctx context.Context) {
			c.setState(StatePreloading)
			c.preloadAll(ctx, log)
			c.setState(StateCleaningUp)
			c.cleanup(ctx, log)
		})
		cancel()
	} else {
		c.setState(StateIdle)
		log.Info("Backend unreachable at startup, skipping preload")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.scheduler.Start(); err != nil {
		c.logger.Error("Cleanup schedule not started", zap.Error(err))
	}
	c.state = StateSteady
	c.logger.Info("Offline cache ready")
}

// taskContext detaches from Close so in-flight work finishes; Close waits for it instead.
func (c *Coordinator) taskContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), c.backgroundTimeout)
}

func (c *Coordinator) preloadAll(ctx context.Context, log *zap.Logger) {
	// each entity type is independent; one failing does not stop the other
	if _, err := c.manager.PreloadProviders(ctx); err != nil {
		log.Error("Provider preload failed", zap.Error(err))
	}
	if _, err := c.manager.PreloadClients(ctx); err != nil {
		log.Error("Client preload failed", zap.Error(err))
	}
}

func (c *Coordinator) cleanup(ctx context.Context, log *zap.Logger) {
	if _, err := c.manager.CleanOldData(ctx); err != nil {
		log.Error("Cleanup failed", zap.Error(err))
	}
}

func (c *Coordinator) scheduledCleanup(ctx context.Context) error {
	_, err := c.manager.CleanOldData(ctx)
	return err
}

func (c *Coordinator) onConnectivityChange(event connectivity.Event) {
	if !event.Online {
		c.logger.Info("Working offline, writes are queued for replay")
		return
	}
	c.goBackground(TaskReplay, func(ctx context.Context) {
		log := logger.FromContext(ctx)
		result, err := c.manager.SyncPendingOperations(ctx)
		if err != nil {
			log.Error("Replay after reconnect failed", zap.Error(err))
		}
		if result != nil {
			c.mu.Lock()
			c.lastSync = result
			c.mu.Unlock()
		}
		c.preloadAll(ctx, log)
	})
}

// goBackground runs fn on a detached context unless the coordinator is closed.
// The context carries a logger and profiling labels tagged with task.
func (c *Coordinator) goBackground(task string, fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := c.taskContext()
		defer cancel()
		ctx, _ = logger.WithTask(ctx, c.logger, task)
		telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelTask: task}, fn)
	}()
}

// SyncNow replays pending operations and records the result for Status
func (c *Coordinator) SyncNow(ctx context.Context) (*SyncResult, error) {
	result, err := c.manager.SyncPendingOperations(ctx)
	if result != nil {
		c.mu.Lock()
		c.lastSync = result
		c.mu.Unlock()
	}
	return result, err
}

// Close stops the cleanup schedule and the connectivity subscription, then
// waits for background work until ctx is done. Calling it again is a no-op.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	err := c.scheduler.Stop(ctx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
		c.logger.Warn("Background work still running at shutdown", zap.Error(err))
	}

	c.setState(StateStopped)
	c.logger.Info("Coordinator stopped")
	return err
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot for diagnostics
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.RLock()
	status := CoordinatorStatus{
		State:     c.state,
		StartedAt: c.startedAt,
		LastSync:  c.lastSync,
	}
	c.mu.RUnlock()

	status.Online = c.conn.IsOnline()
	status.Cleanup = c.scheduler.Status()
	return status
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}
	c.state = s
	c.logger.Debug("State changed", zap.String("state", string(s)))
}
