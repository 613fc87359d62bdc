// Package routes wires the gin engine: middleware chain, health checks,
// swagger, and the read-only query facade.
package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ONEONUORA/stellar-insights/internal/api/handlers"
	"github.com/ONEONUORA/stellar-insights/internal/api/middleware"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/cache"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
)

// Config controls route-level behavior that varies by deployment.
type Config struct {
	Environment     string
	AllowedOrigins  []string
	RateLimitPerMin int
	TrustedProxies  []string
	CacheTTL        time.Duration
}

// Setup builds the gin engine for the query facade. rdb is nil when the
// hot-read cache is disabled.
func Setup(cfg Config, events repositories.EventRepository, rdb cache.RedisClient, log *logger.Logger) *gin.Engine {
	router := gin.New()

	trustedProxies := cfg.TrustedProxies
	if len(trustedProxies) == 0 {
		trustedProxies = []string{"127.0.0.1", "::1"}
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		log.Warn("failed to set trusted proxies, ClientIP falls back to RemoteAddr", "error", err)
	}

	router.Use(middleware.Tracing())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMin))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) })

	if cfg.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	queryHandlers := handlers.NewQueryHandlers(events, log, rdb, cfg.CacheTTL)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/events", queryHandlers.ListEvents)
		v1.GET("/events/search", queryHandlers.SearchByHashPrefix)
		v1.GET("/events/:id", queryHandlers.GetEvent)
		v1.GET("/epochs/:epoch/events", queryHandlers.GetEventsByEpoch)
		v1.GET("/stats", queryHandlers.GetStats)
		v1.GET("/verification-summary", queryHandlers.GetVerificationSummary)
	}

	return router
}
