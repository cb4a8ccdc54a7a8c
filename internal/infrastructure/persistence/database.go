// Package persistence implements the SQL-backed local store of the offline
// cache on top of GORM, for SQLite (the default, a file next to the agent)
// and PostgreSQL.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/infrastructure/migration"
	_ "github.com/lib/pq" // registers "postgres" for the migration connection
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds the gorm connection of the SQL store
type Database struct {
	DB      *gorm.DB
	dialect migration.Dialect
	dsn     string
}

// Option configures how a Database is opened
type Option func(*options)

type options struct {
	logLevel gormlogger.LogLevel
}

// slowQueryThreshold marks queries worth a warning on a local store
const slowQueryThreshold = 200 * time.Millisecond

// WithLogLevel sets the gorm log level (see logger.MapGormLogLevel)
func WithLogLevel(level gormlogger.LogLevel) Option {
	return func(o *options) {
		o.logLevel = level
	}
}

// sqliteDSN enables WAL so the migration connection and gorm can share the file
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
}

// OpenSQLite opens (creating if needed) the SQLite store file at path
func OpenSQLite(path string, zapLogger *zap.Logger, opts ...Option) (*Database, error) {
	dsn := sqliteDSN(path)
	db, err := open(sqlite.Open(dsn), zapLogger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines
	sqlDB.SetMaxOpenConns(1)

	return &Database{DB: db, dialect: migration.DialectSQLite, dsn: dsn}, nil
}

// OpenPostgres connects to the PostgreSQL store described by cfg
func OpenPostgres(cfg *config.DatabaseConfig, zapLogger *zap.Logger, opts ...Option) (*Database, error) {
	dsn := cfg.DSN()
	db, err := open(postgres.Open(dsn), zapLogger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db, dialect: migration.DialectPostgres, dsn: dsn}, nil
}

func open(dialector gorm.Dialector, zapLogger *zap.Logger, opts []Option) (*gorm.DB, error) {
	o := &options{logLevel: gormlogger.Warn}
	for _, opt := range opts {
		opt(o)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(zapLogger, o.logLevel,
			logger.WithSlowThreshold(slowQueryThreshold),
			// cache misses surface as gorm.ErrRecordNotFound
			logger.WithIgnoreRecordNotFoundError(true),
		),
		SkipDefaultTransaction: true,
	})
}

// Dialect returns the SQL flavour of the store
func (d *Database) Dialect() migration.Dialect {
	return d.dialect
}

// NewMigrator opens a dedicated connection for golang-migrate, which the
// returned Migrator closes.
func (d *Database) NewMigrator(zapLogger *zap.Logger) (*migration.Migrator, error) {
	driverName := "sqlite3"
	if d.dialect == migration.DialectPostgres {
		driverName = "postgres"
	}

	sqlDB, err := sql.Open(driverName, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	m, err := migration.New(d.dialect, sqlDB, zapLogger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

// Migrate applies the embedded DDL migrations
func (d *Database) Migrate(zapLogger *zap.Logger) error {
	m, err := d.NewMigrator(zapLogger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			zapLogger.Warn("Failed to close migrator", zap.Error(cerr))
		}
	}()

	return m.Up()
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Stats returns connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int           `json:"maxOpenConnections"`
	OpenConnections    int           `json:"openConnections"`
	InUse              int           `json:"inUse"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"waitCount"`
	WaitDuration       time.Duration `json:"waitDuration"`
}
