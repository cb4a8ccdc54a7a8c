package router

import (
	"github.com/erp/offline/internal/interfaces/http/handler"
)

// OfflineRoutes returns the /offline group: cache management, cached
// reference data, the replay queue and the coordinator status.
func OfflineRoutes(cache *handler.CacheHandler, ops *handler.OperationHandler, system *handler.SystemHandler) *DomainGroup {
	offline := NewDomainGroup("offline", "/offline")
	offline.GET("/status", system.Status)

	c := offline.Group("cache", "/cache")
	c.DELETE("", cache.Clear)
	c.GET("/stats", cache.Stats)
	c.GET("/health", cache.Health)
	c.GET("/schema", cache.SchemaStatus)
	c.POST("/migrate", cache.Migrate)
	c.POST("/cleanup", cache.Cleanup)
	c.POST("/preload/providers", cache.PreloadProviders)
	c.POST("/preload/clients", cache.PreloadClients)
	c.GET("/providers", cache.ListProviders)
	c.GET("/providers/:id", cache.GetProvider)
	c.GET("/clients", cache.ListClients)
	c.GET("/clients/:id", cache.GetClient)

	o := offline.Group("operations", "/operations")
	o.GET("", ops.List)
	o.POST("", ops.Enqueue)
	o.POST("/sync", ops.Sync)

	return offline
}

// SystemRoutes returns the /system group
func SystemRoutes(system *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", system.GetSystemInfo).
		GET("/ping", system.Ping)
}
