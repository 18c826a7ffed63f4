package blobstore

import (
	"context"
	"fmt"

	"ragcore/internal/config"
)

// New selects and constructs a BlobStore from cfg.BlobStoreKind: memory or
// s3.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.BlobStoreKind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("blobstore: unknown kind %q", cfg.BlobStoreKind)
	}
}
