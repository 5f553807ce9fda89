package health

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"deckmerge/internal/shared/telemetry"
)

// Service encapsulates health-related checks.
type Service struct {
	UploadDir string
}

// NewService constructs a health service that also verifies the upload working directory.
func NewService(uploadDir string) *Service {
	return &Service{UploadDir: uploadDir}
}

// Status returns a simple health payload.
func (s *Service) Status() map[string]bool {
	return map[string]bool{"ok": s.uploadDirReady()}
}

// Handler serves GET /health.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.Status()
		if !status["ok"] {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (s *Service) uploadDirReady() bool {
	if s.UploadDir == "" {
		return true
	}
	info, err := os.Stat(s.UploadDir)
	if err != nil || !info.IsDir() {
		telemetry.Warn("health.upload_dir_unavailable", map[string]any{
			"dir": s.UploadDir,
			"err": err,
		})
		return false
	}
	return true
}
