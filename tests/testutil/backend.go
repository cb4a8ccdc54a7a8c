package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/config"
	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Replay is one write received by a FakeBackend
type Replay struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

// FakeBackend is an in-process ERP backend serving providers and clients in
// the backend's paged envelope and recording replayed writes.
type FakeBackend struct {
	Server *httptest.Server

	mu           sync.Mutex
	providers    []offline.Provider
	clients      []offline.Client
	replays      []Replay
	down         bool
	replayStatus int
}

// NewFakeBackend starts a FakeBackend; it is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	b := &FakeBackend{}
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		if b.isDown() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				dto.NewErrorResponse(dto.ErrCodeUnavailable, "maintenance"))
			return
		}
		c.Next()
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/providers", func(c *gin.Context) {
		b.mu.Lock()
		items := append([]offline.Provider(nil), b.providers...)
		b.mu.Unlock()
		servePage(c, items)
	})
	engine.GET("/clients", func(c *gin.Context) {
		b.mu.Lock()
		items := append([]offline.Client(nil), b.clients...)
		b.mu.Unlock()
		servePage(c, items)
	})
	engine.POST("/:type", b.recordReplay)
	engine.PUT("/:type/:id", b.recordReplay)
	engine.DELETE("/:type/:id", b.recordReplay)

	b.Server = httptest.NewServer(engine)
	t.Cleanup(b.Server.Close)
	return b
}

func servePage[T any](c *gin.Context, items []T) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(dto.DefaultPageSize)))
	req := dto.ListRequest{Page: page, PageSize: size}
	start, end := req.Bounds(len(items))
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(items[start:end], int64(len(items)), page, size))
}

func (b *FakeBackend) recordReplay(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)

	b.mu.Lock()
	b.replays = append(b.replays, Replay{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		Authorization: c.GetHeader("Authorization"),
		Body:          body,
	})
	status := b.replayStatus
	b.mu.Unlock()

	if status >= http.StatusBadRequest {
		c.JSON(status, dto.NewErrorResponse(dto.ErrCodeConflict, http.StatusText(status)))
		return
	}
	if c.Request.Method == http.MethodPost {
		c.JSON(http.StatusCreated, dto.NewSuccessResponse(gin.H{"id": "srv-1"}))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(nil))
}

// SetProviders replaces the providers served
func (b *FakeBackend) SetProviders(providers []offline.Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = providers
}

// SetClients replaces the clients served
func (b *FakeBackend) SetClients(clients []offline.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = clients
}

// SetDown makes every endpoint answer 503
func (b *FakeBackend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// SetReplayStatus makes writes answer status; 0 restores success
func (b *FakeBackend) SetReplayStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replayStatus = status
}

// Replays returns the writes received so far
func (b *FakeBackend) Replays() []Replay {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Replay(nil), b.replays...)
}

func (b *FakeBackend) isDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

// RemoteConfig points a remote client at the backend. The small page size
// makes fetches span several pages.
func (b *FakeBackend) RemoteConfig() config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL:       b.Server.URL,
		Timeout:       5 * time.Second,
		ProvidersPath: "/providers",
		ClientsPath:   "/clients",
		HealthPath:    "/health",
		PageSize:      2,
	}
}
