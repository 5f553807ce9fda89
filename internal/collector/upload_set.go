package collector

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Extension is the only file name suffix the collector accepts. The match is
// case-sensitive.
const Extension = ".pptx"

var (
	// ErrNoQualifyingFiles is returned by Add when none of a non-empty batch
	// is a presentation.
	ErrNoQualifyingFiles = errors.New("please add .pptx files only")
	// ErrIndexOutOfRange is returned by Remove for a bad index.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// File is one candidate upload.
type File struct {
	Name string
	Path string
}

// FileFromPath builds a File named after the last path element.
func FileFromPath(path string) File {
	return File{Name: filepath.Base(path), Path: path}
}

// ChangeFunc observes the set after every change.
type ChangeFunc func(files []File, canMerge bool)

// UploadSet is the ordered, editable list of files to merge. The order of the
// set is the order of slides in the output.
type UploadSet struct {
	mu        sync.Mutex
	files     []File
	listeners []ChangeFunc
}

// NewUploadSet returns an empty set.
func NewUploadSet() *UploadSet {
	return &UploadSet{}
}

// OnChange registers fn to run after Add and Remove change the set.
func (s *UploadSet) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Add appends the candidates that end in Extension, keeping their order, and
// returns how many were added. A non-empty batch without any presentation is
// rejected as a whole.
func (s *UploadSet) Add(candidates ...File) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	var accepted []File
	for _, f := range candidates {
		if strings.HasSuffix(f.Name, Extension) {
			accepted = append(accepted, f)
		}
	}
	if len(accepted) == 0 {
		return 0, ErrNoQualifyingFiles
	}

	s.mu.Lock()
	s.files = append(s.files, accepted...)
	s.mu.Unlock()
	s.notify()
	return len(accepted), nil
}

// Remove deletes the file at index; the others keep their relative order.
func (s *UploadSet) Remove(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.files) {
		n := len(s.files)
		s.mu.Unlock()
		return fmt.Errorf("remove %d of %d: %w", index, n, ErrIndexOutOfRange)
	}
	s.files = append(s.files[:index:index], s.files[index+1:]...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Snapshot returns a copy of the current list.
func (s *UploadSet) Snapshot() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]File(nil), s.files...)
}

// Len returns the number of files in the set.
func (s *UploadSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// CanMerge reports whether a merge may be submitted.
func (s *UploadSet) CanMerge() bool {
	return s.Len() > 0
}

func (s *UploadSet) notify() {
	s.mu.Lock()
	files := append([]File(nil), s.files...)
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(files, len(files) > 0)
	}
}
