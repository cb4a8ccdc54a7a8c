package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/cache"
	"github.com/erp/offline/internal/infrastructure/connectivity"
	"github.com/erp/offline/internal/infrastructure/migration"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubRemote serves fixed reference data and records replayed operations
type stubRemote struct {
	mu        sync.Mutex
	providers []offline.Provider
	clients   []offline.Client
	fetchErr  error
	replayErr error
	replayed  []offline.PendingOperation
}

func (r *stubRemote) FetchProviders(context.Context) ([]offline.Provider, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.providers, nil
}

func (r *stubRemote) FetchClients(context.Context) ([]offline.Client, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.clients, nil
}

func (r *stubRemote) Replay(_ context.Context, op offline.PendingOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replayErr != nil {
		return r.replayErr
	}
	r.replayed = append(r.replayed, op)
	return nil
}

type staticConnectivity bool

func (s staticConnectivity) IsOnline() bool { return bool(s) }

func (s staticConnectivity) Subscribe(connectivity.Handler) func() { return func() {} }

type handlerEnv struct {
	store       *cache.InMemoryCacheStore
	remote      *stubRemote
	manager     *offlineapp.CacheManager
	coordinator *offlineapp.Coordinator
	router      *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store := cache.NewInMemoryCacheStore()
	runner, err := migration.NewRunner(store, logger)
	require.NoError(t, err)

	remote := &stubRemote{}
	for i := 1; i <= 3; i++ {
		remote.providers = append(remote.providers, offline.Provider{
			ID:          fmt.Sprintf("p-%d", i),
			Code:        fmt.Sprintf("SUP%03d", i),
			Name:        fmt.Sprintf("Supplier %d", i),
			Status:      "active",
			CreditLimit: decimal.NewFromInt(1000),
		})
	}
	remote.clients = []offline.Client{
		{ID: "c-1", Code: "CUS001", Name: "Customer 1", Status: "active"},
	}

	manager := offlineapp.NewCacheManager(store, remote, runner, logger)
	coordinator := offlineapp.NewCoordinator(manager, staticConnectivity(true), logger)
	t.Cleanup(func() {
		_ = coordinator.Close(context.Background())
	})

	env := &handlerEnv{
		store:       store,
		remote:      remote,
		manager:     manager,
		coordinator: coordinator,
		router:      gin.New(),
	}

	cacheHandler := NewCacheHandler(manager)
	operationHandler := NewOperationHandler(manager, coordinator)
	systemHandler := NewSystemHandler("ERP Offline Agent", "test", coordinator)

	g := env.router.Group("/api/v1/offline")
	g.GET("/status", systemHandler.Status)
	g.POST("/cache/migrate", cacheHandler.Migrate)
	g.GET("/cache/schema", cacheHandler.SchemaStatus)
	g.POST("/cache/preload/providers", cacheHandler.PreloadProviders)
	g.POST("/cache/preload/clients", cacheHandler.PreloadClients)
	g.POST("/cache/cleanup", cacheHandler.Cleanup)
	g.DELETE("/cache", cacheHandler.Clear)
	g.GET("/cache/stats", cacheHandler.Stats)
	g.GET("/cache/health", cacheHandler.Health)
	g.GET("/cache/providers", cacheHandler.ListProviders)
	g.GET("/cache/providers/:id", cacheHandler.GetProvider)
	g.GET("/cache/clients", cacheHandler.ListClients)
	g.GET("/cache/clients/:id", cacheHandler.GetClient)
	g.GET("/operations", operationHandler.List)
	g.POST("/operations", operationHandler.Enqueue)
	g.POST("/operations/sync", operationHandler.Sync)
	return env
}

func (e *handlerEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/v1/offline"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeData unmarshals the data field of a success response into v
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
}
