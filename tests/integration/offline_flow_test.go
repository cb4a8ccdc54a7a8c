package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/connectivity"
	"github.com/erp/offline/internal/infrastructure/migration"
	"github.com/erp/offline/internal/infrastructure/remote"
	"github.com/erp/offline/internal/interfaces/http/handler"
	"github.com/erp/offline/internal/interfaces/http/router"
	"github.com/erp/offline/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// agent is the offline agent wired as in cmd/agent, against a SQLite store
// and a fake backend. The connectivity monitor is checked by hand.
type agent struct {
	backend     *testutil.FakeBackend
	tokens      *remote.TokenSource
	store       offline.LocalStore
	manager     *offlineapp.CacheManager
	monitor     *connectivity.Monitor
	coordinator *offlineapp.Coordinator
	engine      *gin.Engine
}

func newAgent(t *testing.T) *agent {
	t.Helper()
	log := zaptest.NewLogger(t)

	backend := testutil.NewFakeBackend(t)
	backend.SetProviders(testutil.Providers(5))
	backend.SetClients(testutil.Clients(3))

	store := openSQLiteStore(t)
	runner, err := migration.NewRunner(store, log)
	require.NoError(t, err)
	// the monitor and the cache share one client, its token and the test server's transport
	tokens := remote.NewTokenSource("pos-terminal-1")
	client, err := remote.NewClient(backend.RemoteConfig(), log,
		remote.WithHTTPClient(backend.Server.Client()),
		remote.WithTokenSource(tokens),
	)
	require.NoError(t, err)

	monitor := connectivity.NewMonitor(client, log)
	manager := offlineapp.NewCacheManager(store, client, runner, log)
	coordinator := offlineapp.NewCoordinator(manager, monitor, log,
		offlineapp.WithStartupDelay(0),
		offlineapp.WithBackgroundTimeout(10*time.Second),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = coordinator.Close(ctx)
	})

	engine, err := router.NewEngine(router.EngineConfig{ServiceName: "erp-offline-test"}, log)
	require.NoError(t, err)
	system := handler.NewSystemHandler("ERP Offline Agent", "test", coordinator)
	router.NewRouter(engine).
		Register(router.OfflineRoutes(
			handler.NewCacheHandler(manager),
			handler.NewOperationHandler(manager, coordinator),
			system,
		)).
		Setup()

	return &agent{
		backend:     backend,
		tokens:      tokens,
		store:       store,
		manager:     manager,
		monitor:     monitor,
		coordinator: coordinator,
		engine:      engine,
	}
}

func (a *agent) start(t *testing.T) {
	t.Helper()
	ctx := testutil.ContextWithTimeout(t, 10*time.Second)
	a.monitor.Check(ctx)
	a.coordinator.Start(ctx)
	require.Eventually(t, func() bool {
		return a.coordinator.State() == offlineapp.StateSteady
	}, 10*time.Second, 20*time.Millisecond)
}

func (a *agent) stats(t *testing.T) offline.CacheStats {
	t.Helper()
	w := testutil.Do(a.engine, http.MethodGet, "/api/v1/offline/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats offline.CacheStats
	testutil.DecodeData(t, w, &stats)
	return stats
}

// pendingCount reads the store directly so it can run inside Eventually
func (a *agent) pendingCount() int {
	stats, err := a.manager.GetCacheStats(context.Background())
	if err != nil {
		return -1
	}
	return stats.PendingOperationsCount
}

func (a *agent) providersCount() int {
	stats, err := a.manager.GetCacheStats(context.Background())
	if err != nil {
		return -1
	}
	return stats.ProvidersCount
}

func TestOfflineFlow_PreloadsAtStartup(t *testing.T) {
	a := newAgent(t)
	a.start(t)

	stats := a.stats(t)
	assert.Equal(t, 5, stats.ProvidersCount)
	assert.Equal(t, 3, stats.ClientsCount)

	w := testutil.Do(a.engine, http.MethodGet, "/api/v1/offline/cache/clients/c-2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var client offline.Client
	testutil.DecodeData(t, w, &client)
	assert.Equal(t, "Customer 2", client.Name)

	w = testutil.Do(a.engine, http.MethodGet, "/api/v1/offline/cache/schema", "")
	require.Equal(t, http.StatusOK, w.Code)
	var schema offlineapp.SchemaStatus
	testutil.DecodeData(t, w, &schema)
	assert.True(t, schema.UpToDate)
}

func TestOfflineFlow_StartsOfflineWithoutPreload(t *testing.T) {
	a := newAgent(t)
	a.backend.SetDown(true)
	a.start(t)

	stats := a.stats(t)
	assert.Zero(t, stats.ProvidersCount)
	assert.Zero(t, stats.ClientsCount)

	w := testutil.Do(a.engine, http.MethodGet, "/api/v1/offline/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status offlineapp.CoordinatorStatus
	testutil.DecodeData(t, w, &status)
	assert.False(t, status.Online)
	assert.Equal(t, offlineapp.StateSteady, status.State)
}

func TestOfflineFlow_QueuedWritesReplayOnReconnect(t *testing.T) {
	a := newAgent(t)
	a.start(t)
	ctx := testutil.ContextWithTimeout(t, 10*time.Second)

	a.backend.SetDown(true)
	require.False(t, a.monitor.Check(ctx))

	// cached data stays readable while offline
	w := testutil.Do(a.engine, http.MethodGet, "/api/v1/offline/cache/providers?page_size=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations",
		`{"operation_type":"update","entity_type":"clients","entity_id":"c-1","payload":{"phone":"555-0101"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations",
		`{"operation_type":"create","entity_type":"providers","payload":{"name":"New Supplier"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, 2, a.stats(t).PendingOperationsCount)
	assert.Empty(t, a.backend.Replays())

	a.backend.SetProviders(testutil.Providers(6))
	a.backend.SetDown(false)
	require.True(t, a.monitor.Check(ctx))

	require.Eventually(t, func() bool {
		return len(a.backend.Replays()) == 2 && a.pendingCount() == 0
	}, 10*time.Second, 20*time.Millisecond)

	replays := a.backend.Replays()
	assert.Equal(t, http.MethodPut, replays[0].Method)
	assert.Equal(t, "/clients/c-1", replays[0].Path)
	assert.JSONEq(t, `{"phone":"555-0101"}`, string(replays[0].Body))
	assert.Equal(t, http.MethodPost, replays[1].Method)
	assert.Equal(t, "/providers", replays[1].Path)

	// the reconnect also refreshes the cache
	require.Eventually(t, func() bool {
		return a.providersCount() == 6
	}, 10*time.Second, 20*time.Millisecond)

	status := a.coordinator.Status()
	require.NotNil(t, status.LastSync)
	assert.Equal(t, 2, status.LastSync.Replayed)
	assert.True(t, status.Online)
}

func TestOfflineFlow_ConflictingReplayIsDropped(t *testing.T) {
	a := newAgent(t)
	a.start(t)

	a.backend.SetReplayStatus(http.StatusConflict)
	w := testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations",
		`{"operation_type":"delete","entity_type":"clients","entity_id":"c-3"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations/sync", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result offlineapp.SyncResult
	testutil.DecodeData(t, w, &result)
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.Remaining)

	ops, err := a.store.ListOperations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOfflineFlow_ReplayUsesRotatedToken(t *testing.T) {
	a := newAgent(t)
	a.start(t)

	w := testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations",
		`{"operation_type":"update","entity_type":"providers","entity_id":"p-1","payload":{"name":"Renamed"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a.tokens.Set("pos-terminal-1-rotated")

	w = testutil.Do(a.engine, http.MethodPost, "/api/v1/offline/operations/sync", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	replays := a.backend.Replays()
	require.Len(t, replays, 1)
	assert.Equal(t, "Bearer pos-terminal-1-rotated", replays[0].Authorization)
}
