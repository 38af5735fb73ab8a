// Package storage keeps uploaded source photos in object storage. Jobs only
// ever carry the returned reference.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores and fetches opaque objects by key.
type ObjectStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// New constructs the configured object storage backend.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Driver {
	case config.StorageDriverMemory:
		return NewMemoryStorage(), nil
	case config.StorageDriverMinIO:
		s, err := NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q: must be one of memory, minio", cfg.Driver)
	}
}

// UploadKey builds the object key for an uploaded photo, keeping a sanitized
// extension from the original file name.
func UploadKey(id uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
	default:
		ext = ""
	}
	return fmt.Sprintf("uploads/%s%s", id, ext)
}
