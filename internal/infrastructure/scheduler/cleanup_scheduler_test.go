package scheduler

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type staticOnline struct{ online atomic.Bool }

func (s *staticOnline) IsOnline() bool { return s.online.Load() }

func TestCleanupScheduler_RunOnce(t *testing.T) {
	online := &staticOnline{}
	var calls atomic.Int32
	s := NewCleanupScheduler(func(context.Context) error {
		calls.Add(1)
		return nil
	}, online, zaptest.NewLogger(t))

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "offline tick is skipped")
	assert.Zero(t, calls.Load())

	online.online.Store(true)
	ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.EqualValues(t, 1, calls.Load())

	status := s.Status()
	assert.Equal(t, 1, status.Runs)
	assert.Equal(t, 1, status.Skips)
	assert.NotNil(t, status.LastRun)
	assert.NotNil(t, status.LastSkipped)
	assert.Equal(t, defaultCleanupSpec, status.Schedule)
}

func TestCleanupScheduler_TaskError(t *testing.T) {
	online := &staticOnline{}
	online.online.Store(true)
	boom := errors.New("store locked")
	s := NewCleanupScheduler(func(context.Context) error { return boom }, online, zaptest.NewLogger(t))

	ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "store locked", s.Status().LastError)
}

func TestCleanupScheduler_TickTagsTask(t *testing.T) {
	online := &staticOnline{}
	online.online.Store(true)
	core, recorded := observer.New(zapcore.WarnLevel)

	var task, label string
	s := NewCleanupScheduler(func(ctx context.Context) error {
		task = logger.GetTask(ctx)
		label, _ = pprof.Label(ctx, "task")
		return errors.New("store locked")
	}, online, zap.New(core))

	s.tick()

	assert.Equal(t, TaskCleanup, task)
	assert.Equal(t, TaskCleanup, label)
	failed := recorded.FilterMessage("Scheduled cleanup failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, TaskCleanup, failed[0].ContextMap()["task"])
}

func TestCleanupScheduler_InvalidSchedule(t *testing.T) {
	s := NewCleanupScheduler(func(context.Context) error { return nil }, nil, zaptest.NewLogger(t),
		WithSchedule("every now and then"))
	assert.ErrorIs(t, s.Start(), ErrInvalidSchedule)
	assert.False(t, s.Status().Running)
}

func TestCleanupScheduler_NoTask(t *testing.T) {
	s := NewCleanupScheduler(nil, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, s.Start(), ErrNoTask)
}

func TestCleanupScheduler_StartStop(t *testing.T) {
	online := &staticOnline{}
	online.online.Store(true)
	fired := make(chan struct{}, 10)

	s := NewCleanupScheduler(func(context.Context) error {
		fired <- struct{}{}
		return nil
	}, online, zaptest.NewLogger(t),
		WithCron(cron.New(cron.WithSeconds())),
		WithSchedule("@every 1s"),
	)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	status := s.Status()
	assert.True(t, status.Running)
	require.NotNil(t, status.NextRun)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cleanup task never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Status().Running)
}
