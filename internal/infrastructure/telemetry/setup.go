package telemetry

import (
	"context"

	"github.com/erp/offline/internal/infrastructure/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Telemetry bundles the providers the agent starts from one TelemetryConfig.
type Telemetry struct {
	Tracer    *TracerProvider
	Meter     *MeterProvider
	Logs      *LoggerProvider
	DBTracing *DBTracingPlugin
	Cache     *CacheMetrics
	Profiler  *Profiler
}

// Setup creates every provider for cfg and starts the profiler for prof.
// dbSystem names the store backend on query spans ("sqlite" or "postgresql").
func Setup(ctx context.Context, cfg config.TelemetryConfig, prof config.ProfilingConfig, dbSystem string, logger *zap.Logger) (*Telemetry, error) {
	tp, err := NewTracerProvider(ctx, Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}

	mp, err := NewMeterProvider(ctx, MetricsConfig{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.MetricsInterval,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, multierr.Append(err, tp.Shutdown(ctx))
	}

	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           cfg.Enabled && cfg.LogExportEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, multierr.Combine(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	cacheMetrics, err := NewCacheMetrics(mp.Meter("erp-offline/cache"))
	if err != nil {
		return nil, multierr.Combine(err, lp.Shutdown(ctx), mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	profiler, err := NewProfiler(ProfilerConfig{
		Enabled:           prof.Enabled,
		ServerAddress:     prof.ServerAddress,
		ApplicationName:   prof.ApplicationName,
		BasicAuthUser:     prof.BasicAuthUser,
		BasicAuthPassword: prof.BasicAuthPassword,
		ProfileTypes:      prof.ProfileTypes,
	}, logger.Named("profiler"))
	if err != nil {
		return nil, multierr.Combine(err, lp.Shutdown(ctx), mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	if prof.Enabled && prof.SpanProfiles {
		tp.EnableSpanProfiles()
	}

	dbCfg := DefaultDBTracingConfig()
	dbCfg.Enabled = cfg.Enabled && cfg.DBTraceEnabled
	if dbSystem != "" {
		dbCfg.DBSystem = dbSystem
	}

	return &Telemetry{
		Tracer:    tp,
		Meter:     mp,
		Logs:      lp,
		DBTracing: NewDBTracingPlugin(dbCfg, logger.Named("db_tracing")),
		Cache:     cacheMetrics,
		Profiler:  profiler,
	}, nil
}

// LogCore returns the zap core that exports logs, a no-op core when disabled.
func (t *Telemetry) LogCore(serviceName string, level zapcore.Level) zapcore.Core {
	return NewZapOTELCore(ZapBridgeConfig{
		ServiceName:    serviceName,
		LoggerProvider: t.Logs,
		Level:          level,
	})
}

// Shutdown flushes and stops every provider; logs go last so shutdown of the
// others can still be reported.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return multierr.Combine(
		t.Profiler.Stop(),
		t.Tracer.Shutdown(ctx),
		t.Meter.Shutdown(ctx),
		t.Logs.Shutdown(ctx),
	)
}
