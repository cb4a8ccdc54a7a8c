// Package handler implements the diagnostics API of the offline agent.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/domain/shared"
	"github.com/erp/offline/internal/infrastructure/logger"
	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/erp/offline/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	code = dto.NormalizeErrorCode(code)
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// BindError reports a request that could not be bound: field validation
// failures list their fields, anything else (malformed JSON, a non-numeric
// page) is a plain bad request.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	if details := middleware.ValidationDetails(err); details != nil {
		h.ValidationError(c, details)
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
}

// HandleError maps errors of the offline cache to HTTP responses:
// validation and domain errors keep their code, storage failures are 503,
// migration failures 500, backend failures 502. Anything else is a 500
// whose cause is only logged.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if details := middleware.ValidationDetails(err); details != nil {
		h.ValidationError(c, details)
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, domainErr.Code, domainErr.Message)
		return
	}

	log := logger.GetGinLogger(c)

	var storageErr *offline.StorageError
	var migrationErr *offline.MigrationError
	var networkErr *offline.NetworkError
	switch {
	case errors.As(err, &storageErr):
		log.Error("Local store failure", zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeStorage, "Local store is unavailable")
	case errors.As(err, &migrationErr):
		log.Error("Schema migration failure", zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeMigration, migrationErr.Error())
	case errors.As(err, &networkErr):
		log.Warn("Backend call failed", zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeUpstream, networkErr.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.ErrorWithCode(c, dto.ErrCodeUnavailable, "Request timed out")
	default:
		log.Error("Unhandled error", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
	}
}
