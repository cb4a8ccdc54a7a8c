package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/infrastructure/cache"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/infrastructure/connectivity"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/infrastructure/migration"
	"github.com/erp/offline/internal/infrastructure/remote"
	"github.com/erp/offline/internal/infrastructure/scheduler"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"github.com/erp/offline/internal/interfaces/http/handler"
	"github.com/erp/offline/internal/interfaces/http/router"
	"go.uber.org/zap"
)

//go:generate swag init --dir ../../ --generalInfo cmd/agent/main.go --output ../../docs --outputTypes go --parseInternal

//	@title			ERP Offline Agent API
//	@version		1.0
//	@description	Local cache of ERP reference data with a replay queue for writes made while the backend is unreachable

//	@contact.name	API Support
//	@contact.url	https://github.com/erp/offline

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8090
//	@BasePath	/api/v1

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	dbSystem := "sqlite"
	if cfg.Store.Driver == config.StoreDriverPostgres {
		dbSystem = "postgresql"
	}
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Profiling, dbSystem, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	// rebuild the logger so entries are also exported over OTLP
	if exportLog, err := logger.New(logCfg, tel.LogCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level))); err == nil {
		log = exportLog
	} else {
		log.Warn("Log export disabled", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting ERP offline agent",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("version", version),
	)

	store, err := cache.NewStoreFactory(cfg,
		cache.WithLogger(log),
		cache.WithGormLogLevel(logger.MapGormLogLevel(cfg.Log.Level)),
		cache.WithDatabaseHook(tel.DBTracing.Hook()),
	).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to open offline store", zap.Error(err))
	}

	runner, err := migration.NewRunner(store, log)
	if err != nil {
		log.Fatal("Failed to create migration runner", zap.Error(err))
	}

	remoteClient, err := remote.NewClient(cfg.Remote, log)
	if err != nil {
		log.Fatal("Failed to create backend client", zap.Error(err))
	}

	monitor := connectivity.NewMonitor(remoteClient, log,
		connectivity.WithInterval(cfg.Offline.ConnectivityInterval),
		connectivity.WithCheckTimeout(cfg.Remote.Timeout),
	)

	manager := offlineapp.NewCacheManager(store, remoteClient, runner, log,
		offlineapp.WithMetrics(tel.Cache),
		offlineapp.WithRetention(cfg.Offline.Retention),
		offlineapp.WithPendingThreshold(cfg.Offline.PendingOperationsThreshold),
	)

	coordinator := offlineapp.NewCoordinator(manager, monitor, log,
		offlineapp.WithStartupDelay(cfg.Offline.StartupDelay),
		offlineapp.WithBackgroundTimeout(cfg.Offline.BackgroundTimeout),
		offlineapp.WithSchedulerOptions(scheduler.WithSchedule(cfg.Offline.CleanupSchedule)),
	)

	// the first check runs before the coordinator decides whether to preload
	if err := monitor.Start(ctx); err != nil {
		log.Fatal("Failed to start connectivity monitor", zap.Error(err))
	}
	coordinator.Start(ctx)

	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		Env:              cfg.App.Env,
		TracingEnabled:   cfg.Telemetry.Enabled,
		Meter:            tel.Meter.Meter("erp-offline/http"),
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		TrustedProxies:   cfg.HTTP.TrustedProxies,

		SwaggerEnabled:    cfg.Swagger.Enabled,
		SwaggerAllowedIPs: cfg.Swagger.AllowedIPs,
	}, log)
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	systemHandler := handler.NewSystemHandler("ERP Offline Agent", version, coordinator)
	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(router.OfflineRoutes(
			handler.NewCacheHandler(manager),
			handler.NewOperationHandler(manager, coordinator),
			systemHandler,
		)).
		Register(router.SystemRoutes(systemHandler)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := coordinator.Close(shutdownCtx); err != nil {
		log.Error("Coordinator did not stop cleanly", zap.Error(err))
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		log.Error("Connectivity monitor did not stop cleanly", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing offline store", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Agent exited gracefully")
}
