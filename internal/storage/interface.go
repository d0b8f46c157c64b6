package storage

import (
	"context"
	"io"
)

// BlobStorage defines the interface for media blob storage
type BlobStorage interface {
	// Store saves content at the given path, replacing any existing content
	Store(ctx context.Context, path string, content io.Reader, contentType string) error

	// Append writes content to the end of the blob at the given path,
	// creating it if absent. Returns the number of bytes written. The
	// write is synced to disk before returning, so a nil error means the
	// bytes are durable.
	Append(ctx context.Context, path string, content io.Reader) (int64, error)

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Rename atomically moves a blob from oldPath to newPath
	Rename(ctx context.Context, oldPath, newPath string) error

	// Delete removes content at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns the paths of all blobs under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
