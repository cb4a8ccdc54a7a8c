// Package integration runs the offline cache against real stores: SQLite on
// disk, and PostgreSQL and Redis in containers started with testcontainers.
// Container-backed tests are skipped with -short.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/cache"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

// containers shared by every test of the package
var (
	containersMu sync.Mutex
	postgresCfg  *config.DatabaseConfig
	redisCfg     *config.RedisConfig
	started      []testcontainers.Container
)

func terminateContainers() {
	containersMu.Lock()
	defer containersMu.Unlock()
	for _, c := range started {
		_ = c.Terminate(context.Background())
	}
	started = nil
}

func sharedPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL store test in short mode")
	}

	containersMu.Lock()
	defer containersMu.Unlock()
	if postgresCfg != nil {
		return *postgresCfg
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("erp_offline_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	started = append(started, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	postgresCfg = &config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "postgres",
		Password:     "admin123",
		DBName:       "erp_offline_test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
	return *postgresCfg
}

func sharedRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis store test in short mode")
	}

	containersMu.Lock()
	defer containersMu.Unlock()
	if redisCfg != nil {
		return *redisCfg
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	started = append(started, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	redisCfg = &config.RedisConfig{Host: host, Port: port.Int()}
	return *redisCfg
}

// storeBackend opens a fresh, empty store of one driver
type storeBackend struct {
	name string
	open func(t *testing.T) offline.LocalStore
}

var storeBackends = []storeBackend{
	{name: config.StoreDriverSQLite, open: openSQLiteStore},
	{name: config.StoreDriverPostgres, open: openPostgresStore},
	{name: config.StoreDriverRedis, open: openRedisStore},
}

func openStore(t *testing.T, cfg *config.Config) offline.LocalStore {
	t.Helper()
	ctx := context.Background()

	store, err := cache.NewStoreFactory(cfg,
		cache.WithLogger(zaptest.NewLogger(t)),
		cache.WithInMemoryFallback(false),
	).CreateStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// shared containers keep data between tests
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.ClearOperations(ctx))
	require.NoError(t, store.SetSchemaVersion(ctx, 0))
	return store
}

func openSQLiteStore(t *testing.T) offline.LocalStore {
	return openStore(t, &config.Config{
		Store: config.StoreConfig{
			Driver: config.StoreDriverSQLite,
			Path:   filepath.Join(t.TempDir(), "offline-cache.db"),
		},
	})
}

func openPostgresStore(t *testing.T) offline.LocalStore {
	return openStore(t, &config.Config{
		Store:    config.StoreConfig{Driver: config.StoreDriverPostgres},
		Database: sharedPostgres(t),
	})
}

func openRedisStore(t *testing.T) offline.LocalStore {
	redis := sharedRedis(t)
	// one key space per test
	redis.KeyPrefix = fmt.Sprintf("it:%s:", strings.ReplaceAll(t.Name(), "/", "_"))
	return openStore(t, &config.Config{
		Store: config.StoreConfig{Driver: config.StoreDriverRedis},
		Redis: redis,
	})
}
