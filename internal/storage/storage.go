// Package storage defines the object store the ingest output lives in. The
// local, gcs and memory subpackages implement it.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by GetObject when no object exists at path.
var ErrNotExist = errors.New("object does not exist")

// BlobStore reads and replaces whole objects. PutObject must be atomic: a
// reader sees either the previous object or the new one, never a partial
// write.
type BlobStore interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error)
}
