package middleware

import (
	"github.com/gin-gonic/gin"

	"deckmerge/internal/shared/util"
)

const (
	requestIDKey = "requestId"
	requestIDHdr = "X-Request-Id"
)

// RequestID attaches a request ID to context and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHdr)
		if id == "" || len(id) > 128 {
			id = util.RandomID()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHdr, id)
		c.Next()
	}
}

// RequestIDFromContext fetches the request ID stored by RequestID middleware.
func RequestIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(requestIDKey)
}
