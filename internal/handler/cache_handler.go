package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/errcode"
	"github.com/xxxsen/qcache/internal/pkg/response"
	"github.com/xxxsen/qcache/internal/service"
)

type CacheHandler struct {
	cache *service.CacheService
}

func NewCacheHandler(cache *service.CacheService) *CacheHandler {
	return &CacheHandler{cache: cache}
}

func (h *CacheHandler) Analyze(c *gin.Context) {
	var req model.Blueprint
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.cache.AnalyzeGaps(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

type updateRequest struct {
	NotFoundTemplates      []model.NotFoundTemplate `json:"not_found_templates"`
	GeneratedAnswers       []model.GeneratedAnswer  `json:"generated_answers"`
	ProcessedCacheSnapshot []model.CacheDocument    `json:"processed_cache_snapshot"`
	UnitLevel              string                   `json:"unit_level"`
}

// SubmitUpdate only acknowledges receipt. Progress is read back from the summary.
func (h *CacheHandler) SubmitUpdate(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	id := c.Param("id")
	err := h.cache.SubmitUpdate(c.Request.Context(), &service.UpdateRequest{
		CacheSummaryID:         id,
		NotFoundTemplates:      req.NotFoundTemplates,
		GeneratedAnswers:       req.GeneratedAnswers,
		ProcessedCacheSnapshot: req.ProcessedCacheSnapshot,
		UnitLevel:              req.UnitLevel,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"accepted": true, "cache_summary_id": id})
}

func (h *CacheHandler) GetSummary(c *gin.Context) {
	summary, err := h.cache.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, summary)
}

func (h *CacheHandler) ListSummaries(c *gin.Context) {
	filter := model.SummaryFilter{Status: model.SummaryStatus(strings.TrimSpace(c.Query("status")))}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	items, err := h.cache.ListSummaries(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": items, "count": len(items)})
}

func (h *CacheHandler) Retry(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	id := c.Param("id")
	if err := h.cache.Retry(c.Request.Context(), id, force); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"accepted": true, "cache_summary_id": id})
}
