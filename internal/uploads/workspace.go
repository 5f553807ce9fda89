package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deckmerge/internal/shared/telemetry"
	"deckmerge/internal/shared/util"
)

// Extension is appended to staged files so the engine sees a presentation.
const Extension = ".pptx"

// StagedFile is one upload written to the working directory.
type StagedFile struct {
	OriginalName string
	Path         string
	Size         int64
}

// Workspace tracks the files one job writes into the shared upload
// directory. Files of different jobs are kept apart only by their random
// names; Release removes everything the job created.
type Workspace struct {
	dir string

	mu    sync.Mutex
	paths map[string]struct{}
}

// NewWorkspace opens a job workspace in dir, creating dir when missing.
func NewWorkspace(dir string) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Workspace{dir: dir, paths: make(map[string]struct{})}, nil
}

// Receive copies r into the working directory under a generated temp name
// without extension.
func (w *Workspace) Receive(ctx context.Context, originalName string, r io.Reader) (StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return StagedFile{}, err
	}
	if clean, err := util.SanitizeFileName(originalName); err == nil {
		originalName = clean
	} else {
		originalName = "upload" + Extension
	}
	fullPath := filepath.Join(w.dir, util.RandomID())
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return StagedFile{}, fmt.Errorf("create temp file: %w", err)
	}
	w.track(fullPath)

	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return StagedFile{}, fmt.Errorf("receive %s: %w", originalName, copyErr)
	}
	return StagedFile{OriginalName: originalName, Path: fullPath, Size: written}, nil
}

// Normalize renames a staged file so its name ends in Extension.
func (w *Workspace) Normalize(f StagedFile) (StagedFile, error) {
	if strings.HasSuffix(f.Path, Extension) {
		return f, nil
	}
	target := f.Path + Extension
	if err := os.Rename(f.Path, target); err != nil {
		return StagedFile{}, fmt.Errorf("normalize %s: %w", f.OriginalName, err)
	}
	w.mu.Lock()
	delete(w.paths, f.Path)
	w.paths[target] = struct{}{}
	w.mu.Unlock()
	f.Path = target
	return f, nil
}

// Release deletes every file the workspace created. It is safe to call more
// than once.
func (w *Workspace) Release() error {
	w.mu.Lock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	w.paths = make(map[string]struct{})
	w.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		telemetry.Warn("uploads.release_failed", map[string]any{
			"dir":   w.dir,
			"count": len(errs),
			"err":   err,
		})
		return err
	}
	return nil
}

// Pending returns the number of files not yet released.
func (w *Workspace) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paths)
}

func (w *Workspace) track(p string) {
	w.mu.Lock()
	w.paths[p] = struct{}{}
	w.mu.Unlock()
}
