package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in cold storage.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage (spec §11's S3 archival of
// completed transactions).
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves objects and metadata from cold storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from cold storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver moves completed transactions older than a cutoff out of the
// journal and into cold storage.
type Archiver interface {
	ArchiveCompletedTransactions(ctx context.Context, before time.Time) (int64, error)
}
