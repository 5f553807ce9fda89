package respond

import (
	"github.com/gin-gonic/gin"

	"deckmerge/internal/shared/telemetry"
)

// ErrorResponse is the JSON error body. Error carries the client-facing message.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error logs and sends a JSON error response.
func Error(c *gin.Context, status int, code, message string) {
	telemetry.Error("http.error", map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	})

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// Text sends a plain text error response.
func Text(c *gin.Context, status int, message string) {
	telemetry.Warn("http.error", map[string]any{
		"status":     status,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	})
	c.Abort()
	c.String(status, message)
}
