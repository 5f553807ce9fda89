package middleware

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"deckmerge/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	JobIDKey            = "jobId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		var size uint64
		if c.Request.ContentLength > 0 {
			size = uint64(c.Request.ContentLength)
		}

		fields := map[string]any{
			"request_id":         RequestIDFromContext(c),
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"status":             c.Writer.Status(),
			"status_transition":  c.GetString(StatusTransitionKey),
			"job_id":             c.GetString(JobIDKey),
			"duration_ms":        float64(latency.Microseconds()) / 1000.0,
			"request_size":       size,
			"request_size_human": humanize.Bytes(size),
			"client_ip":          c.ClientIP(),
			"user_agent":         c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
