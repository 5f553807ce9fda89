package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// FormField is the multipart field every upload is sent under.
const FormField = "files"

// ErrMergeFailed is returned for any failed submission. The set is left
// untouched so the caller can retry.
var ErrMergeFailed = errors.New("merge failed")

// Progress is shown while a submission is in flight.
type Progress interface {
	Start()
	Stop()
}

// Result is the server's answer to a successful merge.
type Result struct {
	DownloadURL string
}

// Client submits upload sets to a merge server.
type Client struct {
	base     *url.URL
	http     *http.Client
	progress Progress
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProgress sets the indicator shown during Submit.
func WithProgress(p Progress) Option {
	return func(c *Client) { c.progress = p }
}

// NewClient builds a Client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type mergeResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl"`
	Error       string `json:"error"`
}

// Submit posts the set's files in order. An empty set sends nothing and
// returns a zero Result.
func (c *Client) Submit(ctx context.Context, set *UploadSet) (Result, error) {
	files := set.Snapshot()
	if len(files) == 0 {
		return Result{}, nil
	}
	if c.progress != nil {
		c.progress.Start()
		defer c.progress.Stop()
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("merge"), pr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %w", ErrMergeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrMergeFailed, resp.StatusCode, serverMessage(body))
	}

	var payload mergeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %w", ErrMergeFailed, err)
	}
	if !payload.Success || payload.DownloadURL == "" {
		return Result{}, fmt.Errorf("%w: server reported no output", ErrMergeFailed)
	}
	return Result{DownloadURL: c.resolve(payload.DownloadURL)}, nil
}

// Download copies the merged presentation to w.
func (c *Client) Download(ctx context.Context, result Result, w io.Writer) (int64, error) {
	if result.DownloadURL == "" {
		return 0, errors.New("nothing to download")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.DownloadURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return c.base.String() + strings.TrimLeft(ref, "/")
	}
	if !u.IsAbs() && strings.HasPrefix(ref, "/") {
		// Root-relative links from the server sit under the configured base path.
		u.Path = strings.TrimPrefix(u.Path, "/")
	}
	return c.base.ResolveReference(u).String()
}

func writeParts(mw *multipart.Writer, files []File) error {
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile(FormField, f.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func serverMessage(body []byte) string {
	var payload mergeResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
