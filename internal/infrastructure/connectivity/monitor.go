// Package connectivity tracks whether the ERP backend is reachable and tells
// subscribers when that changes.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker checks the backend once. A nil error means online.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// Health implements HealthChecker
func (f HealthCheckFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// Event is published when the backend goes online or offline
type Event struct {
	Online bool
	At     time.Time
}

// Handler receives connectivity events. Handlers run on the monitor goroutine
// and should hand long work off.
type Handler func(Event)

// Monitor polls a HealthChecker and keeps the last known state.
// The first check only establishes the state; events are published for later
// transitions.
type Monitor struct {
	checker      HealthChecker
	interval     time.Duration
	checkTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.RWMutex
	online   bool
	known    bool
	handlers map[int]Handler
	nextID   int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithCheckTimeout bounds a single check
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkTimeout = d
		}
	}
}

// NewMonitor creates a Monitor. It reports offline until the first check.
func NewMonitor(checker HealthChecker, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		checker:      checker,
		interval:     15 * time.Second,
		checkTimeout: 5 * time.Second,
		logger:       logger.Named("connectivity"),
		now:          time.Now,
		handlers:     make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline returns the result of the last check
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers h and returns a func that removes it
func (m *Monitor) Subscribe(h Handler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}

// Check queries the backend now, updates the state and publishes an event if
// it changed. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	err := m.checker.Health(checkCtx)
	cancel()
	online := err == nil

	m.mu.Lock()
	changed := m.known && m.online != online
	first := !m.known
	m.online = online
	m.known = true
	var handlers []Handler
	if changed {
		handlers = make([]Handler, 0, len(m.handlers))
		for _, h := range m.handlers {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	switch {
	case first:
		m.logger.Info("Initial connectivity", zap.Bool("online", online), zap.Error(err))
	case changed && online:
		m.logger.Info("Backend reachable again")
	case changed:
		m.logger.Warn("Backend unreachable, working offline", zap.Error(err))
	}

	if changed {
		event := Event{Online: online, At: m.now()}
		for _, h := range handlers {
			m.dispatch(h, event)
		}
	}
	return online
}

func (m *Monitor) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Connectivity handler panicked", zap.Any("panic", r))
		}
	}()
	h(event)
}

// Start runs a first check synchronously, then polls in the background until
// Stop is called or ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return nil
	}
	m.running = true

	m.Check(ctx)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("Connectivity monitor started", zap.Duration("interval", m.interval))
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop ends polling and waits for an in-flight check, bounded by ctx
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Connectivity monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
