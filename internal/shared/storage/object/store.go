package object

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("object already exists")
	// ErrNotFound is returned by Open for unknown keys.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that escape the store namespace.
	ErrInvalidKey = errors.New("invalid storage key")
)

// ObjectStore saves and retrieves merged outputs by key.
type ObjectStore interface {
	// Create writes r under key. It never overwrites: an existing key yields ErrExists.
	Create(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
