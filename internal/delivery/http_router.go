package delivery

import (
	"time"

	"admetrics/internal/delivery/middleware"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type HTTPRouter struct {
	handlers       *HTTPHandlers
	logger         *logger.Logger
	metrics        *metrics.Metrics
	requestTimeout time.Duration
}

func NewHTTPRouter(handlers *HTTPHandlers, logger *logger.Logger, metrics *metrics.Metrics, requestTimeout time.Duration) *HTTPRouter {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	return &HTTPRouter{
		handlers:       handlers,
		logger:         logger,
		metrics:        metrics,
		requestTimeout: requestTimeout,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", middleware.RequestIDHeader}
	config.ExposeHeaders = []string{middleware.RequestIDHeader}

	router.Use(cors.New(config))

	// Health endpoint
	router.GET("/health", r.handlers.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Timeout(r.requestTimeout))
	{
		v1.GET("/", r.handlers.GetAPIInfo)
		v1.GET("", r.handlers.GetAPIInfo)

		// Metrics endpoints
		metricsGroup := v1.Group("/metrics")
		{
			metricsGroup.GET("/clients/:client_id", r.handlers.GetClientMetrics)
		}

		// Client endpoints
		clients := v1.Group("/clients")
		{
			clients.POST("/:client_id/invalidate", r.handlers.InvalidateClient)
		}

		// Cache endpoints
		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/stats", r.handlers.GetCacheStats)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler(r.metrics))

	return router
}
