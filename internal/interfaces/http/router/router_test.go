package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/offline/internal/interfaces/http/handler"
	"github.com/erp/offline/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.NotNil(t, r)
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.Register(group).Setup()

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestDomainGroup(t *testing.T) {
	t.Run("creates group with name and prefix", func(t *testing.T) {
		g := NewDomainGroup("cache", "/cache")
		assert.Equal(t, "cache", g.Name())
		assert.Equal(t, "/cache", g.Prefix())
	})

	t.Run("registers each method", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.GET("/items", func(c *gin.Context) { c.Status(http.StatusOK) })
		g.POST("/items", func(c *gin.Context) { c.Status(http.StatusCreated) })
		g.DELETE("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/test/items", nil)).Code)
		assert.Equal(t, http.StatusCreated, serve(engine, httptest.NewRequest(http.MethodPost, "/api/v1/test/items", nil)).Code)
		assert.Equal(t, http.StatusNoContent, serve(engine, httptest.NewRequest(http.MethodDelete, "/api/v1/test/items/1", nil)).Code)
	})

	t.Run("applies middleware", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.Use(func(c *gin.Context) {
			c.Header("X-Test-Middleware", "applied")
			c.Next()
		})
		g.GET("/items", func(c *gin.Context) { c.Status(http.StatusOK) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/test/items", nil))
		assert.Equal(t, "applied", w.Header().Get("X-Test-Middleware"))
	})

	t.Run("creates subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("offline", "/offline")
		g.Group("cache", "/cache").GET("", func(c *gin.Context) {
			c.String(http.StatusOK, "cache")
		})
		g.Group("operations", "/operations").GET("", func(c *gin.Context) {
			c.String(http.StatusOK, "operations")
		})
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/offline/cache", nil))
		assert.Equal(t, "cache", w.Body.String())
		w = serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/offline/operations", nil))
		assert.Equal(t, "operations", w.Body.String())
	})
}

func TestOfflineRoutes(t *testing.T) {
	engine := gin.New()
	system := handler.NewSystemHandler("ERP Offline Agent", "test", nil)
	NewRouter(engine).
		Register(OfflineRoutes(handler.NewCacheHandler(nil), handler.NewOperationHandler(nil, nil), system)).
		Register(SystemRoutes(system)).
		Setup()

	registered := make(map[string]bool)
	for _, route := range engine.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /api/v1/offline/status",
		"POST /api/v1/offline/cache/preload/providers",
		"POST /api/v1/offline/cache/preload/clients",
		"POST /api/v1/offline/cache/cleanup",
		"DELETE /api/v1/offline/cache",
		"GET /api/v1/offline/cache/stats",
		"GET /api/v1/offline/cache/health",
		"GET /api/v1/offline/cache/schema",
		"POST /api/v1/offline/cache/migrate",
		"GET /api/v1/offline/cache/providers",
		"GET /api/v1/offline/cache/providers/:id",
		"GET /api/v1/offline/cache/clients",
		"GET /api/v1/offline/cache/clients/:id",
		"GET /api/v1/offline/operations",
		"POST /api/v1/offline/operations",
		"POST /api/v1/offline/operations/sync",
		"GET /api/v1/system/info",
		"GET /api/v1/system/ping",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Env:              "test",
		CORSAllowOrigins: []string{"http://pos.local"},
		MaxBodyBytes:     64,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return engine
}

func TestNewEngine_Health(t *testing.T) {
	engine := newTestEngine(t)

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestNewEngine_KeepsCallerRequestID(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "pos-42")
	w := serve(engine, req)
	assert.Equal(t, "pos-42", w.Header().Get(middleware.RequestIDHeader))
}

func TestNewEngine_BodyLimit(t *testing.T) {
	engine := newTestEngine(t)
	engine.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 65)))
	w := serve(engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestNewEngine_CORS(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://pos.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(engine, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://pos.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://elsewhere.example")
	w = serve(engine, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := newTestEngine(t)
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestNewEngine_Swagger(t *testing.T) {
	t.Run("not served unless enabled", func(t *testing.T) {
		engine := newTestEngine(t)
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("serves the registered document", func(t *testing.T) {
		engine, err := NewEngine(EngineConfig{Env: "test", SwaggerEnabled: true}, zaptest.NewLogger(t))
		require.NoError(t, err)

		w := serve(engine, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"title": "ERP Offline Agent API"`)
		assert.Contains(t, w.Body.String(), `"/offline/operations/sync"`)
	})

	t.Run("honours the ip allowlist", func(t *testing.T) {
		engine, err := NewEngine(EngineConfig{
			Env:               "test",
			SwaggerEnabled:    true,
			SwaggerAllowedIPs: []string{"10.0.0.0/8"},
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
		req.RemoteAddr = "192.168.1.9:4000"
		assert.Equal(t, http.StatusForbidden, serve(engine, req).Code)

		req = httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		assert.Equal(t, http.StatusOK, serve(engine, req).Code)
	})
}
