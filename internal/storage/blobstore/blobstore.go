// Package blobstore abstracts storage of raw document bytes (the original
// upload, before extraction/cleaning/chunking) behind a narrow interface so
// ingestion can run against S3-compatible object storage in production and
// an in-memory store in tests.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors returned by BlobStore implementations.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrBucketMissing = errors.New("bucket does not exist")
)

// ObjectAttrs contains metadata about a stored document blob.
type ObjectAttrs struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions configures a Put operation.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// BlobStore stores and retrieves the raw bytes backing a Document.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get retrieves a blob by key. The caller must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error)

	// Put stores a blob, fully consuming r, and returns its ETag.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (etag string, err error)

	// Delete removes a blob. Not an error if it does not exist.
	Delete(ctx context.Context, key string) error

	// Head returns blob metadata without downloading content.
	Head(ctx context.Context, key string) (ObjectAttrs, error)

	// Exists reports whether a blob exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}
