package handler

import (
	"context"
	"errors"
	"net/http"

	"coinbank/internal/service"
	"coinbank/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const retryAfterSeconds = "1"

// fail renders err as a JSON envelope with the matching HTTP status.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		response.BusinessError(c, http.StatusNotFound, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, http.StatusBadRequest, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, http.StatusBadRequest, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrSameAccount):
		response.BusinessError(c, http.StatusBadRequest, response.CodeSameAccount, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrIdempotencyKeyReused):
		response.BusinessError(c, http.StatusConflict, response.CodeIdempotencyKeyReused, err.Error())
	case errors.Is(err, service.ErrEmailExists):
		response.BusinessError(c, http.StatusConflict, response.CodeEmailExists, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.BusinessError(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, service.ErrContention),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		c.Header("Retry-After", retryAfterSeconds)
		response.BusinessError(c, http.StatusServiceUnavailable, response.CodeContention, "service busy, please retry")
	default:
		h.logger.Error("unhandled error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(ctxKeyRequestID)),
			zap.Error(err),
		)
		response.ServerError(c, "internal server error")
	}
}
