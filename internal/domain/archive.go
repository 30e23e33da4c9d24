package domain

import (
	"context"
	"io"
	"time"
)

// Archiver moves accepted quotes older than before out of the hot quote
// table and reports how many rows it moved.
type Archiver interface {
	ArchiveQuotes(ctx context.Context, before time.Time) (int64, error)
}

// BlobInfo describes one archive object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive objects. PutMultipart is used for payloads too
// large for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive objects back. Get on a missing path returns
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
