package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/middleware"
)

type RouterDeps struct {
	Cache           *CacheHandler
	RetryRateWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	cache := api.Group("/cache")
	cache.POST("/analyze", deps.Cache.Analyze)
	cache.GET("/summaries", deps.Cache.ListSummaries)
	cache.GET("/summaries/:id", deps.Cache.GetSummary)
	cache.POST("/summaries/:id/update", deps.Cache.SubmitUpdate)
	cache.POST("/summaries/:id/retry", middleware.RateLimit(deps.RetryRateWindow), deps.Cache.Retry)

	api.GET("/metrics", metrics.Handler())
}
