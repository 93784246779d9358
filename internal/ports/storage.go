// Package ports declares the storage contract shared by the API, the worker
// and the storage adapters.
package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned for keys the provider does not hold.
var ErrObjectNotFound = errors.New("object not found")

// PutObjectInput describes one upload. Size may be -1 when unknown.
type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// PutObjectOutput reports where an upload landed. localfs keeps the
// requested key; gdrive answers with the Drive file id.
type PutObjectOutput struct {
	ObjectKey string
	Size      int64
}

// SignedURLOutput is a time limited download link. URL is empty when the
// provider cannot sign; callers then stream through the API.
type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectReader is what scene asset resolution and video streaming need.
type ObjectReader interface {
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)
}

// ObjectWriter stores uploaded assets and rendered videos.
type ObjectWriter interface {
	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// StorageProvider is a named backend (localfs, gdrive).
type StorageProvider interface {
	Provider() string
	ObjectReader
	ObjectWriter
}
