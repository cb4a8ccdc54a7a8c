package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/erp/offline/internal/infrastructure/cache"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/infrastructure/migration"
	"github.com/erp/offline/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "internal/infrastructure/migration/migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
		driver         string
	)

	flag.StringVar(&migrationsPath, "path", defaultMigrationsPath, "Directory new migrations are written to (create only)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&driver, "driver", "", "Override store.driver (sqlite, postgres, redis)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}

	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("driver", cfg.Store.Driver),
	)

	switch command {
	case "create":
		if len(args) < 2 {
			log.Fatal("Migration name required. Usage: migrate create <name> [description]")
		}
		description := ""
		if len(args) > 2 {
			description = args[2]
		}
		files, err := migration.CreateMigration(migrationsPath, args[1], description)
		if err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		for _, f := range files {
			log.Info("Migration created",
				zap.String("version", f.Version),
				zap.String("dialect", string(f.Dialect)),
				zap.String("up_file", f.UpPath),
				zap.String("down_file", f.DownPath),
			)
		}
		return

	case "list":
		for _, dialect := range migration.Dialects {
			names, err := migration.ListMigrations(dialect)
			if err != nil {
				log.Fatal("Failed to list migrations", zap.Error(err))
			}
			fmt.Printf("%s (%d)\n", dialect, len(names))
			for _, name := range names {
				fmt.Println("  -", name)
			}
		}
		return

	case "logical", "status":
		runLogical(command, cfg, log)
		return
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		log.Fatal("Failed to open store database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	m, err := db.NewMigrator(log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer func() {
		_ = m.Close()
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal("Migration up failed", zap.Error(err))
		}

	case "down":
		if err := m.Down(); err != nil {
			log.Fatal("Migration down failed", zap.Error(err))
		}

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Failed to get version", zap.Error(err))
		}
		if version == 0 {
			log.Info("No migrations applied")
		} else {
			log.Info("Current migration version",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
		}

	case "force":
		if len(args) < 2 {
			log.Fatal("Version required. Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Invalid version number", zap.String("value", args[1]))
		}
		log.Warn("Forcing migration version - use with caution!")
		if err := m.Force(version); err != nil {
			log.Fatal("Force version failed", zap.Error(err))
		}

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

// openDatabase opens the SQL store without applying migrations
func openDatabase(cfg *config.Config, log *zap.Logger) (*persistence.Database, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		return persistence.OpenSQLite(cfg.Store.Path, log)
	case config.StoreDriverPostgres:
		return persistence.OpenPostgres(&cfg.Database, log)
	default:
		return nil, fmt.Errorf("store driver %q has no DDL migrations; use 'logical'", cfg.Store.Driver)
	}
}

// runLogical applies (logical) or reports (status) the record-shape
// migrations, which work on every store driver.
func runLogical(command string, cfg *config.Config, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := cache.NewStoreFactory(cfg, cache.WithLogger(log), cache.WithInMemoryFallback(false)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		_ = store.Close()
	}()

	runner, err := migration.NewRunner(store, log)
	if err != nil {
		log.Fatal("Failed to create migration runner", zap.Error(err))
	}

	if command == "logical" {
		if err := runner.MigrateDatabase(ctx); err != nil {
			log.Fatal("Record migration failed", zap.Error(err))
		}
	}

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		log.Fatal("Failed to read schema version", zap.Error(err))
	}
	log.Info("Record schema version",
		zap.Uint("current", current),
		zap.Uint("target", runner.TargetVersion()),
		zap.Bool("up_to_date", current == runner.TargetVersion()),
	)
}

func printUsage() {
	fmt.Println(`ERP Offline Store Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending DDL migrations (sqlite, postgres)
  down                  Roll back all DDL migrations
  version               Show current DDL migration version
  force <version>       Force set DDL migration version (use with caution)
  logical               Apply pending record-shape migrations (any driver)
  status                Show record schema version against the target
  create <name> [desc]  Create a new migration pair for every dialect
  list                  List embedded migrations

Flags:
  -path string          Directory for new migrations (default: internal/infrastructure/migration/migrations)
  -driver string        Override store.driver
  -log-level string     Log level (default: info)`)
}
