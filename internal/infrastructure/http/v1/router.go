// Package v1 provides the admin HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"recordmanager/internal/app"
	"recordmanager/internal/infrastructure/http/v1/handlers"
	"recordmanager/internal/infrastructure/http/v1/middleware"
	"recordmanager/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Services *app.Services
	Logger   *logger.Logger

	// Info adds fields to /health/info. Optional.
	Info func() map[string]any
}

// NewRouter creates the gin engine of the admin API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// order matters: errors are rendered before logging and metrics see them
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	if m := cfg.Services.Metrics; m != nil {
		router.Use(middleware.Metrics(m))
	}
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Services.Stores.Ping, cfg.Info)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if m := cfg.Services.Metrics; m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/api/v1")
	registerRecordRoutes(v1, cfg)
	registerDedupRoutes(v1, cfg)
	registerSourceRoutes(v1, cfg)

	return router
}

func registerRecordRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	handler := handlers.NewRecordHandler(handlers.NewBaseHandler(), cfg.Services)

	records := rg.Group("/records")
	records.GET("/:id", handler.Get)
	records.POST("/:id/dedup", handler.Dedup)
	records.POST("/:id/check", handler.Check)
	records.POST("/:id/propagate", handler.Propagate)
}

func registerDedupRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	handler := handlers.NewDedupHandler(handlers.NewBaseHandler(), cfg.Services)

	dedups := rg.Group("/dedup")
	dedups.GET("/:id", handler.Get)
	dedups.GET("/:id/journal", handler.Journal)
	dedups.POST("/:id/check", handler.Check)
	dedups.DELETE("/:id/members/:recordId", handler.RemoveMember)
}

func registerSourceRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	handler := handlers.NewSourceHandler(handlers.NewBaseHandler(), cfg.Services)
	rg.GET("/sources", handler.List)
}
