package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"OFFLINE_APP_NAME",
	"OFFLINE_APP_ENV",
	"OFFLINE_APP_PORT",
	"OFFLINE_STORE_DRIVER",
	"OFFLINE_STORE_PATH",
	"OFFLINE_DATABASE_MAX_OPEN_CONNS",
	"OFFLINE_DATABASE_MAX_IDLE_CONNS",
	"OFFLINE_REMOTE_BASE_URL",
	"OFFLINE_REMOTE_TOKEN",
	"OFFLINE_REMOTE_TIMEOUT",
	"OFFLINE_REMOTE_PAGE_SIZE",
	"OFFLINE_OFFLINE_RETENTION",
	"OFFLINE_OFFLINE_STARTUP_DELAY",
	"OFFLINE_OFFLINE_CLEANUP_SCHEDULE",
	"OFFLINE_TELEMETRY_SAMPLING_RATIO",
	"OFFLINE_TELEMETRY_SERVICE_NAME",
	"OFFLINE_PROFILING_ENABLED",
	"OFFLINE_PROFILING_APPLICATION_NAME",
	"OFFLINE_SWAGGER_ENABLED",
	"OFFLINE_SWAGGER_ALLOWED_IPS",
}

// clearConfigEnv unsets every variable the tests touch and restores them afterwards
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
		} else {
			t.Setenv(k, "")
		}
		os.Unsetenv(k)
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearConfigEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "erp-offline-agent", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8090", cfg.App.Port)
		assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
		assert.Equal(t, "offline-cache.db", cfg.Store.Path)
		assert.Equal(t, "http://localhost:8080/api/v1", cfg.Remote.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
		assert.Equal(t, "/providers", cfg.Remote.ProvidersPath)
		assert.Equal(t, "/clients", cfg.Remote.ClientsPath)
		assert.Equal(t, 7*24*time.Hour, cfg.Offline.Retention)
		assert.Equal(t, 2*time.Second, cfg.Offline.StartupDelay)
		assert.Equal(t, "@every 24h", cfg.Offline.CleanupSchedule)
		assert.Equal(t, 500, cfg.Offline.PendingOperationsThreshold)
		assert.Equal(t, "offline:", cfg.Redis.KeyPrefix)
	})

	t.Run("loads values from environment variables with OFFLINE prefix", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_APP_NAME", "branch-12")
		t.Setenv("OFFLINE_APP_PORT", "9100")
		t.Setenv("OFFLINE_STORE_DRIVER", "redis")
		t.Setenv("OFFLINE_REMOTE_BASE_URL", "https://erp.example.com/api/v1")
		t.Setenv("OFFLINE_REMOTE_TIMEOUT", "3s")
		t.Setenv("OFFLINE_OFFLINE_RETENTION", "72h")
		t.Setenv("OFFLINE_OFFLINE_CLEANUP_SCHEDULE", "0 3 * * *")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "branch-12", cfg.App.Name)
		assert.Equal(t, "9100", cfg.App.Port)
		assert.Equal(t, StoreDriverRedis, cfg.Store.Driver)
		assert.Equal(t, "https://erp.example.com/api/v1", cfg.Remote.BaseURL)
		assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
		assert.Equal(t, 72*time.Hour, cfg.Offline.Retention)
		assert.Equal(t, "0 3 * * *", cfg.Offline.CleanupSchedule)
	})

	t.Run("defaults profiling to the telemetry service name", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_TELEMETRY_SERVICE_NAME", "branch-agent")

		cfg, err := Load()
		require.NoError(t, err)
		assert.False(t, cfg.Profiling.Enabled)
		assert.Equal(t, "branch-agent", cfg.Profiling.ApplicationName)
		assert.Equal(t, "http://localhost:4040", cfg.Profiling.ServerAddress)
		assert.False(t, cfg.Swagger.Enabled)
	})

	t.Run("keeps an explicit zero startup delay", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_OFFLINE_STARTUP_DELAY", "0s")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Zero(t, cfg.Offline.StartupDelay)
	})

	t.Run("rejects negative startup delay", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_OFFLINE_STARTUP_DELAY", "-1s")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offline.startup_delay")
	})

	t.Run("rejects unknown store driver", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_STORE_DRIVER", "indexeddb")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.driver")
	})

	t.Run("rejects invalid cleanup schedule", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_OFFLINE_CLEANUP_SCHEDULE", "every day")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offline.cleanup_schedule")
	})

	t.Run("rejects relative base url", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_REMOTE_BASE_URL", "/api/v1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.base_url")
	})

	t.Run("rejects retention below one hour", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_OFFLINE_RETENTION", "10m")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offline.retention")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns for postgres", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_STORE_DRIVER", "postgres")
		t.Setenv("OFFLINE_DATABASE_MAX_OPEN_CONNS", "5")
		t.Setenv("OFFLINE_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("rejects sampling ratio out of range", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_TELEMETRY_SAMPLING_RATIO", "1.5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sampling_ratio")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("OFFLINE_APP_ENV", "production")
		t.Setenv("OFFLINE_REMOTE_BASE_URL", "https://erp.example.com/api/v1")
		t.Setenv("OFFLINE_REMOTE_TOKEN", "token")
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	t.Run("requires remote.token in production", func(t *testing.T) {
		setValidProductionBase(t)
		os.Unsetenv("OFFLINE_REMOTE_TOKEN")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.token is required in production")
	})

	t.Run("requires https in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("OFFLINE_REMOTE_BASE_URL", "http://erp.example.com/api/v1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "https")
	})

	t.Run("rejects memory store in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("OFFLINE_STORE_DRIVER", "memory")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not durable")
	})

	t.Run("rejects open swagger endpoint in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("OFFLINE_SWAGGER_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "swagger endpoint")
	})

	t.Run("allows swagger restricted by ip in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("OFFLINE_SWAGGER_ENABLED", "true")
		t.Setenv("OFFLINE_SWAGGER_ALLOWED_IPS", "10.0.0.5")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.5"}, cfg.Swagger.AllowedIPs)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.local", Port: 6380}
	assert.Equal(t, "cache.local:6380", cfg.Addr())
}
