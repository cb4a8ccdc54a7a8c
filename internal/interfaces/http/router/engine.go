package router

import (
	"net/http"

	_ "github.com/erp/offline/docs"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds request bodies; queued operations are small
const DefaultMaxBodyBytes int64 = 1 << 20

// EngineConfig configures the middleware chain of the engine
type EngineConfig struct {
	ServiceName      string
	Env              string
	TracingEnabled   bool
	Meter            metric.Meter // nil disables HTTP metrics
	CORSAllowOrigins []string
	TrustedProxies   []string
	MaxBodyBytes     int64

	SwaggerEnabled    bool     // serve the API documentation under /swagger
	SwaggerAllowedIPs []string // empty allows every client
}

// NewEngine creates a gin engine with the agent's middleware chain. The
// order matters: the request ID must exist before tracing and logging read
// it, and recovery wraps everything.
func NewEngine(cfg EngineConfig, log *zap.Logger) (*gin.Engine, error) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	tracing := middleware.DefaultTracingConfig()
	tracing.Enabled = cfg.TracingEnabled
	if cfg.ServiceName != "" {
		tracing.ServiceName = cfg.ServiceName
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORSAllowOrigins

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.TracingWithConfig(tracing),
		middleware.TracingAttributeInjector(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(cfg.Meter, log),
		logger.GinMiddleware(log, logger.WithSkipPaths("/health")),
		middleware.Secure(),
		middleware.CORSWithConfig(cors),
		middleware.BodyLimit(maxBody),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.SwaggerEnabled {
		engine.GET("/swagger/*any",
			middleware.SwaggerAccess(cfg.SwaggerAllowedIPs),
			ginSwagger.WrapHandler(swaggerFiles.Handler),
		)
	}

	return engine, nil
}
