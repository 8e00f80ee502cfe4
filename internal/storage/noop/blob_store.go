// Package noop provides a BlobStore that discards artifacts.
package noop

import (
	"context"
	"fmt"
)

// BlobStore accepts every write and stores nothing. Used when artifact
// retention is disabled.
type BlobStore struct{}

// New creates a no-op blob store.
func New() *BlobStore {
	return &BlobStore{}
}

// PutObject discards the data and returns a synthetic URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	return fmt.Sprintf("noop://%s", path), nil
}
