package handler

import (
	"runtime"
	"time"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/gin-gonic/gin"
)

// SystemHandler reports the agent itself: build info, liveness and the
// offline-init coordinator's state.
type SystemHandler struct {
	BaseHandler
	name        string
	version     string
	coordinator *offlineapp.Coordinator
	startTime   time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, coordinator *offlineapp.Coordinator) *SystemHandler {
	return &SystemHandler{
		name:        name,
		version:     version,
		coordinator: coordinator,
		startTime:   time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// GetSystemInfo handles GET /system/info
// @ID           getSystemInfo
// @Summary      Get system information
// @Description  Returns the agent name, version and uptime
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=SystemInfoResponse}
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping handles GET /system/ping
// @ID           pingSystem
// @Summary      Ping the API
// @Description  Simple ping endpoint to check if the API is responsive
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=PingResponse}
// @Router       /system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Status handles GET /offline/status
// @ID           getOfflineStatus
// @Summary      Get coordinator status
// @Description  Returns the offline-init state, connectivity, the last replay and the cleanup schedule
// @Tags         offline
// @Produce      json
// @Success      200 {object} dto.Response{data=offlineapp.CoordinatorStatus}
// @Router       /offline/status [get]
func (h *SystemHandler) Status(c *gin.Context) {
	h.Success(c, h.coordinator.Status())
}
