package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/runner"
	"github.com/use-agent/harvest/webhook"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
// Background work started for the router stops when ctx is done. cc and wh
// may be nil to disable caching and webhooks.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so health checks from monitors always work.
func NewRouter(ctx context.Context, svc *runner.Service, cfg *config.Config, cc *cache.Cache, wh *webhook.Notifier, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(svc, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/run", handler.Run(svc, cc, wh, cfg.Runner.Strategy))

	return r
}
