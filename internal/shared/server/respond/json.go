package respond

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK writes a 200 OK JSON response.
func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Attachment streams r as a downloadable file. size may be -1 when unknown.
func Attachment(c *gin.Context, fileName, contentType string, size int64, r io.Reader) {
	c.DataFromReader(http.StatusOK, size, contentType, r, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", fileName),
	})
}
