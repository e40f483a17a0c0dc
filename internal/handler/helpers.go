package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/pkg/errcode"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
	"github.com/xxxsen/qcache/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		logger.Debug("request failed")
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		logger.Debug("request failed")
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrInProgress):
		response.Error(c, errcode.ErrInProgress, "cache update in progress")
	case errors.Is(err, appErr.ErrAlreadyUpdated):
		response.Error(c, errcode.ErrAlreadyUpdated, "cache already updated")
	case errors.Is(err, appErr.ErrQueueFull):
		logger.Warn("request failed")
		response.Error(c, errcode.ErrQueueFull, "update queue full")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrEmbeddingUnavailable):
		logger.Warn("request failed")
		response.Error(c, errcode.ErrEmbeddingUnavailable, "embedding provider unavailable")
	default:
		logger.Error("request failed")
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
