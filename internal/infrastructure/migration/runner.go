package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"go.uber.org/zap"
)

// Step is one record-shape migration. Apply must be idempotent: a step
// interrupted after partial work is re-run from the start on the next startup.
type Step struct {
	Version     uint
	Description string
	Apply       func(ctx context.Context, store offline.LocalStore, now time.Time) error
}

// Runner brings a LocalStore from its stored SchemaVersion up to the version
// of the last Step, one step at a time.
type Runner struct {
	store  offline.LocalStore
	steps  []Step
	logger *zap.Logger
	now    func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithSteps replaces the built-in steps
func WithSteps(steps ...Step) RunnerOption {
	return func(r *Runner) {
		r.steps = steps
	}
}

// WithClock sets the time source handed to steps
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner over store using DefaultSteps unless overridden.
// Steps must be numbered 1..N without gaps.
func NewRunner(store offline.LocalStore, logger *zap.Logger, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		store:  store,
		steps:  DefaultSteps(),
		logger: logger.Named("schema"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, step := range r.steps {
		if step.Version != uint(i+1) {
			return nil, fmt.Errorf("migration step %d has version %d, want %d", i, step.Version, i+1)
		}
		if step.Apply == nil {
			return nil, fmt.Errorf("migration step %d has no Apply func", step.Version)
		}
	}
	return r, nil
}

// TargetVersion returns the version the store is at after every step ran
func (r *Runner) TargetVersion() uint {
	return uint(len(r.steps))
}

// MigrateDatabase applies every step above the stored version, in order.
//
// At the target version it returns nil without writing. When a step fails it
// stops, leaves SchemaVersion at the last step that succeeded and returns a
// *offline.MigrationError. A store already ahead of TargetVersion is reported
// as a MigrationError too, since this build cannot read it safely.
func (r *Runner) MigrateDatabase(ctx context.Context) error {
	current, err := r.store.SchemaVersion(ctx)
	if err != nil {
		return &offline.MigrationError{Version: 0, Description: "read schema version", Err: err}
	}

	target := r.TargetVersion()
	switch {
	case current == target:
		r.logger.Debug("Schema up to date", zap.Uint("version", current))
		return nil
	case current > target:
		return &offline.MigrationError{
			Version:     current,
			Description: "store is newer than this build",
			Err:         fmt.Errorf("stored version %d exceeds target %d", current, target),
		}
	}

	r.logger.Info("Migrating local store",
		zap.Uint("from", current),
		zap.Uint("to", target),
	)

	for _, step := range r.steps[current:] {
		if err := ctx.Err(); err != nil {
			return &offline.MigrationError{Version: step.Version, Description: step.Description, Err: err}
		}

		start := time.Now()
		if err := step.Apply(ctx, r.store, r.now()); err != nil {
			r.logger.Error("Migration step failed",
				zap.Uint("version", step.Version),
				zap.String("description", step.Description),
				zap.Error(err),
			)
			return &offline.MigrationError{Version: step.Version, Description: step.Description, Err: err}
		}
		if err := r.store.SetSchemaVersion(ctx, step.Version); err != nil {
			return &offline.MigrationError{Version: step.Version, Description: step.Description, Err: err}
		}

		r.logger.Info("Migration step applied",
			zap.Uint("version", step.Version),
			zap.String("description", step.Description),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}
