package delivery

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"admetrics/internal/domain"
	"admetrics/internal/usecase"
	"admetrics/pkg/logger"

	"github.com/gin-gonic/gin"
)

// handles HTTP requests
type HTTPHandlers struct {
	metricsService *usecase.MetricsService
	logger         *logger.Logger
	now            func() time.Time
}

// creates new HTTP handlers
func NewHTTPHandlers(metricsService *usecase.MetricsService, logger *logger.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		metricsService: metricsService,
		logger:         logger,
		now:            time.Now,
	}
}

type metricsResponse struct {
	*domain.MetricsRecord
	Partial   bool   `json:"partial"`
	RequestID string `json:"request_id"`
}

type statsResponse struct {
	domain.CacheStats
	RequestID string `json:"request_id"`
}

// GetClientMetrics serves a client's metrics for one platform selector and period
func (h *HTTPHandlers) GetClientMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := logger.RequestID(ctx)

	platform := domain.Platform(strings.ToLower(c.DefaultQuery("platform", string(domain.PlatformBoth))))

	dates, err := h.parseRange(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	force := false
	if raw := c.Query("force_refresh"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Invalid parameters",
				"message":    "force_refresh must be a boolean",
				"request_id": requestID,
			})
			return
		}
	}

	record, err := h.metricsService.GetMetrics(ctx, domain.MetricsRequest{
		ClientID:     c.Param("client_id"),
		Platform:     platform,
		Range:        dates,
		ForceRefresh: force,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, metricsResponse{
		MetricsRecord: record,
		Partial:       record.Partial(),
		RequestID:     requestID,
	})
}

// InvalidateClient drops every cached record of a client
func (h *HTTPHandlers) InvalidateClient(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Param("client_id")

	removed, err := h.metricsService.InvalidateClient(ctx, clientID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_id":   clientID,
		"invalidated": removed,
		"request_id":  logger.RequestID(ctx),
	})
}

// GetCacheStats reports hit rates and tier sizes for this instance
func (h *HTTPHandlers) GetCacheStats(c *gin.Context) {
	ctx := c.Request.Context()

	c.JSON(http.StatusOK, statsResponse{
		CacheStats: h.metricsService.GetCacheStats(ctx),
		RequestID:  logger.RequestID(ctx),
	})
}

// GetAPIInfo returns API v1 information and available endpoints
func (h *HTTPHandlers) GetAPIInfo(c *gin.Context) {
	apiInfo := gin.H{
		"api_version": "v1",
		"service":     "Ad Metrics Service",
		"version":     "1.0.0",
		"description": "Cached, coalesced campaign metrics across the social and search ad platforms",
		"endpoints": gin.H{
			"metrics": gin.H{
				"path":        "/api/v1/metrics/clients/{client_id}",
				"method":      "GET",
				"description": "Get campaign metrics for a client",
				"parameters": gin.H{
					"platform":      "Optional: both, social or search (default: both)",
					"period":        "Optional: YYYY-MM or YYYY-MM-DD..YYYY-MM-DD (default: current month)",
					"from":          "Optional: Start date (YYYY-MM-DD), requires to",
					"to":            "Optional: End date (YYYY-MM-DD), requires from",
					"force_refresh": "Optional: bypass the cache (default: false)",
				},
				"example": "/api/v1/metrics/clients/acme?platform=both&period=2024-03",
			},
			"invalidate": gin.H{
				"path":        "/api/v1/clients/{client_id}/invalidate",
				"method":      "POST",
				"description": "Drop every cached record of a client, e.g. after its credentials change",
			},
			"cache_stats": gin.H{
				"path":        "/api/v1/cache/stats",
				"method":      "GET",
				"description": "Cache hit rates and tier sizes for this instance",
			},
		},
		"business_metrics": gin.H{
			"ctr":  "Click Through Rate (clicks / impressions)",
			"cpc":  "Cost Per Click (spend / clicks)",
			"cpa":  "Cost Per Conversion (spend / conversions)",
			"cvr":  "Conversion Rate (conversions / clicks)",
			"roas": "Return on Ad Spend (booking value / spend)",
		},
		"request_id": logger.RequestID(c.Request.Context()),
	}

	c.JSON(http.StatusOK, apiInfo)
}

// HealthCheck returns the health status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  h.now().UTC().Format(time.RFC3339),
		"service":    "admetrics",
		"version":    "1.0.0",
		"request_id": logger.RequestID(c.Request.Context()),
	})
}

// parseRange reads period, or from and to, defaulting to the current month
func (h *HTTPHandlers) parseRange(c *gin.Context) (domain.DateRange, error) {
	if period := c.Query("period"); period != "" {
		return domain.ParseDateRange(period)
	}

	from, to := c.Query("from"), c.Query("to")
	switch {
	case from == "" && to == "":
		return domain.CurrentMonth(h.now()), nil
	case from == "" || to == "":
		return domain.DateRange{}, &domain.InvalidRangeError{Start: from, End: to, Reason: "from and to must be given together"}
	}

	r := domain.DateRange{Start: from, End: to}
	if _, _, err := r.Bounds(); err != nil {
		return domain.DateRange{}, err
	}
	return r, nil
}

// statusClientClosedRequest is logged when the caller went away before the
// response was ready. Nothing is written to the body.
const statusClientClosedRequest = 499

// writeError maps service errors onto HTTP statuses
func (h *HTTPHandlers) writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	requestID := logger.RequestID(ctx)

	var credErr *domain.CredentialError
	var bothErr *domain.BothPlatformsFailedError
	var transientErr *domain.TransientFetchError

	switch {
	case domain.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid parameters",
			"message":    err.Error(),
			"request_id": requestID,
		})
	case errors.As(err, &credErr):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":           "Platform credentials rejected",
			"message":         err.Error(),
			"reauth_required": true,
			"platforms":       rejectedPlatforms(err),
			"request_id":      requestID,
		})
	case errors.As(err, &bothErr), errors.As(err, &transientErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      "Ad platforms unavailable",
			"message":    err.Error(),
			"request_id": requestID,
		})
	case errors.Is(err, context.Canceled):
		h.logger.WithContext(ctx).WithError(err).Debug("Client closed request")
		c.AbortWithStatus(statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":      "Request timeout",
			"request_id": requestID,
		})
	default:
		h.logger.WithContext(ctx).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"message":    err.Error(),
			"request_id": requestID,
		})
	}
}

// rejectedPlatforms lists the platforms whose credentials were refused
func rejectedPlatforms(err error) []domain.Platform {
	var platforms []domain.Platform

	var bothErr *domain.BothPlatformsFailedError
	if errors.As(err, &bothErr) {
		for p, platformErr := range bothErr.Errors {
			var credErr *domain.CredentialError
			if errors.As(platformErr, &credErr) {
				platforms = append(platforms, p)
			}
		}
		sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
		return platforms
	}

	var credErr *domain.CredentialError
	if errors.As(err, &credErr) {
		platforms = append(platforms, credErr.Platform)
	}
	return platforms
}
