package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestSetup_Disabled(t *testing.T) {
	ctx := context.Background()
	tel, err := telemetry.Setup(ctx, config.TelemetryConfig{
		Enabled:          false,
		ServiceName:      "erp-offline-agent",
		SamplingRatio:    1.0,
		MetricsInterval:  time.Minute,
		DBTraceEnabled:   true,
		LogExportEnabled: true,
	}, config.ProfilingConfig{SpanProfiles: true}, "postgresql", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tel.Tracer.IsEnabled())
	assert.False(t, tel.Meter.IsEnabled())
	assert.False(t, tel.Logs.IsEnabled())
	require.NotNil(t, tel.Cache)
	require.NotNil(t, tel.DBTracing)
	require.NotNil(t, tel.Profiler)
	assert.False(t, tel.Profiler.IsEnabled())
	assert.False(t, tel.Tracer.SpanProfilesEnabled())

	core := tel.LogCore("erp-offline-agent", zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	assert.NoError(t, tel.Tracer.ForceFlush(ctx))
	assert.NoError(t, tel.Logs.ForceFlush(ctx))
	assert.NoError(t, tel.Shutdown(ctx))
	// second shutdown of disabled providers is harmless
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNewTracerProvider_DisabledFallsBackToGlobal(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	tracer := tp.Tracer("test")
	require.NotNil(t, tracer)
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
}

func TestSetup_RejectsUnknownProfileType(t *testing.T) {
	_, err := telemetry.Setup(context.Background(), config.TelemetryConfig{
		ServiceName:     "erp-offline-agent",
		SamplingRatio:   1.0,
		MetricsInterval: time.Minute,
	}, config.ProfilingConfig{
		Enabled:         true,
		ServerAddress:   "http://localhost:4040",
		ApplicationName: "erp-offline-agent",
		ProfileTypes:    []string{"cpu", "heap"},
	}, "sqlite", zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown profile type "heap"`)
}

func TestNewTracerProvider_SpanProfiles(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// no SDK provider to wrap while tracing is disabled
	tp.EnableSpanProfiles()
	assert.False(t, tp.SpanProfilesEnabled())
}

func TestNewMeterProvider_DisabledFallsBackToGlobal(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())

	counter, err := telemetry.NewCounter(mp.Meter("test"), "noop_total", "noop", "1")
	require.NoError(t, err)
	counter.Inc(context.Background())
}
