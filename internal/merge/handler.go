package merge

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"deckmerge/internal/pptx"
	"deckmerge/internal/shared/metrics"
	"deckmerge/internal/shared/server/middleware"
	"deckmerge/internal/shared/server/respond"
	"deckmerge/internal/shared/storage/object"
	"deckmerge/internal/shared/telemetry"
)

// FormField is the multipart field carrying the uploads.
const FormField = "files"

const (
	msgNoFiles       = "No files uploaded."
	msgWriteFailed   = "Merge failed during write."
	msgInternal      = "Internal server error."
	msgTooLarge      = "upload too large"
	msgNotFound      = "not found"
	maxMemoryDefault = 32 << 20
)

// Handler wires HTTP handlers to the orchestrator and the output store.
type Handler struct {
	Orch           *Orchestrator
	Store          object.ObjectStore
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(orch *Orchestrator, store object.ObjectStore, maxUploadBytes int64) *Handler {
	return &Handler{Orch: orch, Store: store, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches the merge and download routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/merge", h.merge)
	r.GET(OutputURLPrefix+":name", h.output)
}

func (h *Handler) merge(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}

	files, err := uploadedFiles(c)
	defer removeForm(c)
	if err != nil {
		if isTooLarge(err) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "upload_too_large", msgTooLarge)
			return
		}
		telemetry.Warn("merge.form_invalid", map[string]any{"err": err})
	}
	if len(files) == 0 {
		respond.Text(c, http.StatusBadRequest, msgNoFiles)
		return
	}

	sources := make([]Source, 0, len(files))
	for _, fh := range files {
		fh := fh
		metrics.AddUploadBytes(fh.Size)
		sources = append(sources, Source{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	result, err := h.Orch.Run(c.Request.Context(), sources)
	c.Set(middleware.JobIDKey, result.JobID)
	if err != nil {
		c.Set(middleware.StatusTransitionKey, string(StateFailed)+"->"+string(StateResponded))
		logResponded(result.JobID, StateFailed)
		if errors.Is(err, ErrWriteFailed) {
			respond.Error(c, http.StatusInternalServerError, "", msgWriteFailed)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "", msgInternal)
		return
	}

	c.Set(middleware.StatusTransitionKey, string(StateWritten)+"->"+string(StateResponded))
	logResponded(result.JobID, StateWritten)
	respond.OK(c, MergeResponse{Success: true, DownloadURL: result.DownloadURL})
}

func (h *Handler) output(c *gin.Context) {
	name := c.Param("name")
	rc, err := h.Store.Open(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) || errors.Is(err, object.ErrInvalidKey) {
			respond.Error(c, http.StatusNotFound, "not_found", msgNotFound)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", msgInternal)
		return
	}
	defer rc.Close()
	respond.Attachment(c, name, pptx.MimeType, -1, rc)
}

// uploadedFiles returns the parts of the files field in request order.
func uploadedFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	if err := c.Request.ParseMultipartForm(maxMemoryDefault); err != nil {
		return nil, err
	}
	if c.Request.MultipartForm == nil {
		return nil, nil
	}
	return c.Request.MultipartForm.File[FormField], nil
}

func removeForm(c *gin.Context) {
	if form := c.Request.MultipartForm; form != nil {
		_ = form.RemoveAll()
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func logResponded(jobID string, from State) {
	if jobID == "" {
		return
	}
	telemetry.Info("merge.job.transition", map[string]any{
		"job_id": jobID,
		"from":   string(from),
		"to":     string(StateResponded),
	})
}
