package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/semidx/semidx/internal/pkg/errcode"
	appErr "github.com/semidx/semidx/internal/pkg/errors"
	"github.com/semidx/semidx/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrValidation):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case appErr.IsRateLimit(err):
		response.Error(c, errcode.ErrTooMany, "provider rate limited")
	case errors.Is(err, appErr.ErrAuth), errors.Is(err, appErr.ErrUnavailable):
		response.Error(c, errcode.ErrUpstream, "embedding provider unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
