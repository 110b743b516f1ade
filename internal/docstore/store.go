// Package docstore abstracts the object store holding source documents
// and rendered previews. The engine never deletes source documents.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a path has no stored object.
var ErrNotFound = errors.New("document not found")

// Store reads and writes document bytes by path.
type Store interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}
