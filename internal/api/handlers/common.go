package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
)

// respondError sends a standardized error response.
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondBadRequest sends a bad request error.
func respondBadRequest(c *gin.Context, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", message, det)
}

// respondInternalError sends an internal server error.
func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

// respondNotFound sends a not found error.
func respondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// respondSuccess sends a success response with data.
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// parseTime parses a string to time.Time (RFC3339 format).
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	return time.Parse(time.RFC3339, s)
}

// parseIntParam parses a query parameter to int with a default value.
func parseIntParam(c *gin.Context, param string, defaultVal int) int {
	if val := c.Query(param); val != "" {
		if parsed, err := parseInt(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// parseInt64Param parses a query parameter to int64 with a default value.
func parseInt64Param(c *gin.Context, param string, defaultVal int64) int64 {
	if val := c.Query(param); val != "" {
		var i int64
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

// parseInt64PathParam parses a path parameter (e.g. :epoch) to int64 with a
// default value, distinct from parseInt64Param's query-string lookup.
func parseInt64PathParam(c *gin.Context, param string, defaultVal int64) int64 {
	if val := c.Param(param); val != "" {
		var i int64
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func parseInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// parseBoolParam parses a query parameter to bool with a default value.
func parseBoolParam(c *gin.Context, param string, defaultVal bool) bool {
	if val := c.Query(param); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
