package handler

import (
	"context"
	"time"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// CacheHandler exposes the cache manager: preload, cleanup, clear, stats,
// health, migration and read access to cached reference data.
type CacheHandler struct {
	BaseHandler
	manager *offlineapp.CacheManager
}

// NewCacheHandler creates a new CacheHandler
func NewCacheHandler(manager *offlineapp.CacheManager) *CacheHandler {
	return &CacheHandler{manager: manager}
}

// PreloadResponse reports a manual preload
type PreloadResponse struct {
	EntityType string `json:"entity_type"`
	Fetched    int    `json:"fetched"`
	Written    int    `json:"written"`
	Skipped    bool   `json:"skipped"`
	Aborted    bool   `json:"aborted"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func toPreloadResponse(r *offlineapp.PreloadResult) PreloadResponse {
	return PreloadResponse{
		EntityType: r.EntityType.String(),
		Fetched:    r.Fetched,
		Written:    r.Written,
		Skipped:    r.Skipped,
		Aborted:    r.Aborted,
		Reason:     r.Reason,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// CleanupResponse reports an eviction pass
type CleanupResponse struct {
	Cutoff  time.Time        `json:"cutoff"`
	Evicted map[string]int64 `json:"evicted"`
	Total   int64            `json:"total"`
}

// PreloadProviders handles POST /cache/preload/providers
// @ID           preloadOfflineProviders
// @Summary      Preload providers
// @Description  Fetches every provider from the backend into the cache; skipped while offline
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=PreloadResponse}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/preload/providers [post]
func (h *CacheHandler) PreloadProviders(c *gin.Context) {
	result, err := h.manager.PreloadProviders(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPreloadResponse(result))
}

// PreloadClients handles POST /cache/preload/clients
// @ID           preloadOfflineClients
// @Summary      Preload clients
// @Description  Fetches every client from the backend into the cache; skipped while offline
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=PreloadResponse}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/preload/clients [post]
func (h *CacheHandler) PreloadClients(c *gin.Context) {
	result, err := h.manager.PreloadClients(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPreloadResponse(result))
}

// Cleanup handles POST /cache/cleanup
// @ID           cleanupOfflineCache
// @Summary      Evict old records
// @Description  Deletes cached records fetched before the retention cutoff
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=CleanupResponse}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/cleanup [post]
func (h *CacheHandler) Cleanup(c *gin.Context) {
	result, err := h.manager.CleanOldData(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	evicted := make(map[string]int64, len(result.Evicted))
	for entityType, n := range result.Evicted {
		evicted[entityType.String()] = n
	}
	h.Success(c, CleanupResponse{
		Cutoff:  result.Cutoff,
		Evicted: evicted,
		Total:   result.Total(),
	})
}

// Clear handles DELETE /cache. Cached records and pending operations are
// removed; the schema version stays.
// @ID           clearOfflineCache
// @Summary      Clear the cache
// @Description  Removes every cached record and pending operation; the schema version is kept
// @Tags         cache
// @Produce      json
// @Success      204
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache [delete]
func (h *CacheHandler) Clear(c *gin.Context) {
	if err := h.manager.ClearAllCache(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Stats handles GET /cache/stats
// @ID           getOfflineCacheStats
// @Summary      Get cache statistics
// @Description  Counts cached providers, clients and pending operations
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=offline.CacheStats}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/stats [get]
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.manager.GetCacheStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// Health handles GET /cache/health. The check itself never fails, so the
// response is always 200; callers read isHealthy.
// @ID           getOfflineCacheHealth
// @Summary      Check cache health
// @Description  Always 200; isHealthy and issues describe the store
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=offline.HealthReport}
// @Router       /offline/cache/health [get]
func (h *CacheHandler) Health(c *gin.Context) {
	h.Success(c, h.manager.CheckCacheHealth(c.Request.Context()))
}

// Migrate handles POST /cache/migrate
// @ID           migrateOfflineCache
// @Summary      Migrate the local schema
// @Description  Runs every pending schema step and returns the resulting status
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=offlineapp.SchemaStatus}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/migrate [post]
func (h *CacheHandler) Migrate(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.manager.MigrateDatabase(ctx); err != nil {
		h.HandleError(c, err)
		return
	}
	status, err := h.manager.SchemaStatus(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// SchemaStatus handles GET /cache/schema
// @ID           getOfflineCacheSchema
// @Summary      Get schema status
// @Description  Compares the stored schema version with the target version
// @Tags         cache
// @Produce      json
// @Success      200 {object} dto.Response{data=offlineapp.SchemaStatus}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/schema [get]
func (h *CacheHandler) SchemaStatus(c *gin.Context) {
	status, err := h.manager.SchemaStatus(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// ListProviders handles GET /cache/providers
// @ID           listOfflineProviders
// @Summary      List cached providers
// @Description  Pages over the cached providers
// @Tags         cache
// @Produce      json
// @Param        page query int false "Page number" minimum(1) maximum(100000) default(1)
// @Param        page_size query int false "Page size" minimum(1) maximum(100) default(20)
// @Success      200 {object} dto.Response{data=[]offline.Provider,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/providers [get]
func (h *CacheHandler) ListProviders(c *gin.Context) {
	listPage(h, c, h.manager.ListProviders)
}

// GetProvider handles GET /cache/providers/:id
// @ID           getOfflineProvider
// @Summary      Get a cached provider
// @Description  Returns one cached provider
// @Tags         cache
// @Produce      json
// @Param        id path string true "Provider ID"
// @Success      200 {object} dto.Response{data=offline.Provider}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/providers/{id} [get]
func (h *CacheHandler) GetProvider(c *gin.Context) {
	getOne(h, c, h.manager.GetProvider)
}

// ListClients handles GET /cache/clients
// @ID           listOfflineClients
// @Summary      List cached clients
// @Description  Pages over the cached clients
// @Tags         cache
// @Produce      json
// @Param        page query int false "Page number" minimum(1) maximum(100000) default(1)
// @Param        page_size query int false "Page size" minimum(1) maximum(100) default(20)
// @Success      200 {object} dto.Response{data=[]offline.Client,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/clients [get]
func (h *CacheHandler) ListClients(c *gin.Context) {
	listPage(h, c, h.manager.ListClients)
}

// GetClient handles GET /cache/clients/:id
// @ID           getOfflineClient
// @Summary      Get a cached client
// @Description  Returns one cached client
// @Tags         cache
// @Produce      json
// @Param        id path string true "Client ID"
// @Success      200 {object} dto.Response{data=offline.Client}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/cache/clients/{id} [get]
func (h *CacheHandler) GetClient(c *gin.Context) {
	getOne(h, c, h.manager.GetClient)
}

func listPage[T offline.Entity](h *CacheHandler, c *gin.Context, list func(context.Context) ([]T, error)) {
	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}

	items, err := list(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	start, end := req.Bounds(len(items))
	h.SuccessWithMeta(c, items[start:end], int64(len(items)), req.Page, req.PageSize)
}

func getOne[T offline.Entity](h *CacheHandler, c *gin.Context, get func(context.Context, string) (*T, error)) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BindError(c, err)
		return
	}

	entity, err := get(c.Request.Context(), req.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entity)
}
