package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func findEntry(t *testing.T, logs *observer.ObservedLogs, msg string) observer.LoggedEntry {
	t.Helper()
	entries := logs.FilterMessage(msg).All()
	require.NotEmpty(t, entries, "expected log entry %q", msg)
	return entries[0]
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("logs request with level by status", func(t *testing.T) {
		tests := []struct {
			name   string
			status int
			level  zapcore.Level
		}{
			{"ok", http.StatusOK, zapcore.InfoLevel},
			{"client error", http.StatusNotFound, zapcore.WarnLevel},
			{"server error", http.StatusServiceUnavailable, zapcore.ErrorLevel},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				core, recorded := observer.New(zapcore.DebugLevel)
				router := gin.New()
				router.Use(GinMiddleware(zap.New(core)))
				router.GET("/stats", func(c *gin.Context) { c.Status(tt.status) })

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats?verbose=1", nil))

				entry := findEntry(t, recorded, "HTTP Request")
				assert.Equal(t, tt.level, entry.Level)
				assert.EqualValues(t, tt.status, entry.ContextMap()["status"])
				assert.Equal(t, "verbose=1", entry.ContextMap()["query"])
			})
		}
	})

	t.Run("propagates request id into request context", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set("request_id", "req-123")
			c.Next()
		})
		router.Use(GinMiddleware(zap.New(core)))

		var seen string
		router.GET("/health", func(c *gin.Context) {
			seen = GetRequestID(c.Request.Context())
			GetGinLogger(c).Info("handler")
			c.Status(http.StatusOK)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", findEntry(t, recorded, "handler").ContextMap()["request_id"])
	})

	t.Run("adds the trace id of the active span", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Request = c.Request.WithContext(spanContext(t))
			c.Next()
		})
		router.Use(GinMiddleware(zap.New(core)))
		router.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats", nil))

		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", findEntry(t, recorded, "HTTP Request").ContextMap()["trace_id"])
	})

	t.Run("skips configured paths", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(GinMiddleware(zap.New(core), WithSkipPaths("/health")))
		router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Zero(t, recorded.FilterMessage("HTTP Request").Len())
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zapcore.ErrorLevel)

	router := gin.New()
	router.Use(Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) { panic("store closed") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	entry := findEntry(t, recorded, "Panic recovered")
	assert.Equal(t, "store closed", entry.ContextMap()["error"])
}

func TestGetGinLogger_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetGinLogger(c))
}
