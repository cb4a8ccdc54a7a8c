package handler

import (
	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// OperationHandler queues writes made while offline and triggers their replay
type OperationHandler struct {
	BaseHandler
	manager     *offlineapp.CacheManager
	coordinator *offlineapp.Coordinator
}

// NewOperationHandler creates a new OperationHandler
func NewOperationHandler(manager *offlineapp.CacheManager, coordinator *offlineapp.Coordinator) *OperationHandler {
	return &OperationHandler{
		manager:     manager,
		coordinator: coordinator,
	}
}

// List handles GET /operations
// @ID           listOfflineOperations
// @Summary      List pending operations
// @Description  Pages over queued writes in replay order
// @Tags         operations
// @Produce      json
// @Param        page query int false "Page number" minimum(1) maximum(100000) default(1)
// @Param        page_size query int false "Page size" minimum(1) maximum(100) default(20)
// @Success      200 {object} dto.Response{data=[]offline.PendingOperation,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/operations [get]
func (h *OperationHandler) List(c *gin.Context) {
	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}

	ops, err := h.manager.ListPendingOperations(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	start, end := req.Bounds(len(ops))
	h.SuccessWithMeta(c, ops[start:end], int64(len(ops)), req.Page, req.PageSize)
}

// Enqueue handles POST /operations. Field rules are enforced by the
// manager, which reports them with their JSON names.
// @ID           enqueueOfflineOperation
// @Summary      Queue a write
// @Description  Queues a create, update or delete for replay when the backend is reachable
// @Tags         operations
// @Accept       json
// @Produce      json
// @Param        request body offlineapp.EnqueueOperationRequest true "Operation to queue"
// @Success      201 {object} dto.Response{data=offline.PendingOperation}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      413 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/operations [post]
func (h *OperationHandler) Enqueue(c *gin.Context) {
	var req offlineapp.EnqueueOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	op, err := h.manager.EnqueueOperation(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, op)
}

// Sync handles POST /operations/sync. Replay failures that leave operations
// queued are reported in the result, not as an error.
// @ID           syncOfflineOperations
// @Summary      Replay pending operations
// @Description  Replays queued writes in order; failures that keep operations queued are reported in the result
// @Tags         operations
// @Produce      json
// @Success      200 {object} dto.Response{data=offlineapp.SyncResult}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /offline/operations/sync [post]
func (h *OperationHandler) Sync(c *gin.Context) {
	result, err := h.coordinator.SyncNow(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
