package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/logging"
)

// ApiResponse wraps successful payloads.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes the {"error", "message"} envelope and aborts the request.
func ErrorResponse(c *gin.Context, statusCode int, errorCode, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes data as a successful ApiResponse.
func WriteJSON(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, ApiResponse{Success: true, Data: data})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{apperrors.ErrSyncInProgress, http.StatusConflict, "sync_in_progress"},
	{apperrors.ErrCatalogUnavailable, http.StatusBadGateway, "catalog_unavailable"},
	{apperrors.ErrDatabaseDeleted, http.StatusGone, "database_deleted"},
	{apperrors.ErrTableNotFound, http.StatusNotFound, "table_not_found"},
	{apperrors.ErrColumnNotFound, http.StatusNotFound, "column_not_found"},
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperrors.ErrInvalidRelationshipType, http.StatusBadRequest, "invalid_relationship_type"},
	{apperrors.ErrDuplicateRelationship, http.StatusConflict, "duplicate_relationship"},
	{apperrors.ErrConflict, http.StatusConflict, "conflict"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// ServiceError writes err using the status its sentinel maps to. Server-side
// failures are logged and answered with a generic message.
func ServiceError(c *gin.Context, logger *zap.Logger, operation string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("operation", operation),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		ErrorResponse(c, status, code, "Failed to "+operation)
		return
	}
	ErrorResponse(c, status, code, logging.SanitizeError(err))
}
