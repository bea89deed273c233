package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ParseDatabaseID extracts and validates the database ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseDatabaseID(c *gin.Context) (uuid.UUID, bool) {
	return parseUUID(c, "id", "invalid_database_id", "Invalid database ID format")
}

func parseUUID(c *gin.Context, param, errorCode, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, errorCode, message)
		return uuid.Nil, false
	}
	return id, true
}
