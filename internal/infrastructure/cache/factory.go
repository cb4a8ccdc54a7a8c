// Package cache builds the local store behind the offline cache: the Redis and
// in-memory backends live here, and StoreFactory picks between them and the
// SQL store from persistence according to configuration.
package cache

import (
	"context"
	"fmt"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// StoreFactory creates the configured offline.LocalStore
type StoreFactory struct {
	cfg                   *config.Config
	logger                *zap.Logger
	allowInMemoryFallback bool
	gormLogLevel          gormlogger.LogLevel
	databaseHooks         []func(*gorm.DB) error
}

// StoreFactoryOption configures a StoreFactory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory and the stores it opens
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback overrides store.allow_memory_fallback
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithGormLogLevel sets the gorm log level of SQL stores
func WithGormLogLevel(level gormlogger.LogLevel) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.gormLogLevel = level
	}
}

// WithDatabaseHook registers a callback run on the gorm DB of SQL stores
// before first use (tracing plugins, for example)
func WithDatabaseHook(hook func(*gorm.DB) error) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.databaseHooks = append(f.databaseHooks, hook)
	}
}

// NewStoreFactory creates a factory for cfg
func NewStoreFactory(cfg *config.Config, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		cfg:                   cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: cfg.Store.AllowMemoryFallback,
		gormLogLevel:          gormlogger.Warn,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore opens the store named by store.driver. When it cannot be opened
// and fallback is allowed, an in-memory store is returned instead.
func (f *StoreFactory) CreateStore(ctx context.Context) (offline.LocalStore, error) {
	driver := f.cfg.Store.Driver
	if driver == config.StoreDriverMemory {
		f.logger.Warn("Using in-memory offline store; cached data is lost on restart")
		return NewInMemoryCacheStore(), nil
	}

	store, err := f.open(ctx, driver)
	if err == nil {
		f.logger.Info("Offline store opened", zap.String("driver", driver))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("offline store %q unavailable: %w", driver, err)
	}
	f.logger.Warn("Offline store unavailable, falling back to in-memory store. "+
		"Pending operations will not survive a restart.",
		zap.String("driver", driver),
		zap.Error(err),
	)
	return NewInMemoryCacheStore(), nil
}

func (f *StoreFactory) open(ctx context.Context, driver string) (offline.LocalStore, error) {
	switch driver {
	case config.StoreDriverRedis:
		return NewRedisCacheStore(ctx, f.cfg.Redis)
	case config.StoreDriverSQLite, config.StoreDriverPostgres:
		return f.openSQL(driver)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func (f *StoreFactory) openSQL(driver string) (offline.LocalStore, error) {
	var (
		db  *persistence.Database
		err error
	)
	storeLogger := f.logger.Named("store")
	if driver == config.StoreDriverSQLite {
		db, err = persistence.OpenSQLite(f.cfg.Store.Path, storeLogger, persistence.WithLogLevel(f.gormLogLevel))
	} else {
		db, err = persistence.OpenPostgres(&f.cfg.Database, storeLogger, persistence.WithLogLevel(f.gormLogLevel))
	}
	if err != nil {
		return nil, err
	}

	for _, hook := range f.databaseHooks {
		if err := hook(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.Migrate(storeLogger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", driver, err)
	}
	return persistence.NewGormCacheStore(db), nil
}
