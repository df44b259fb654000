package storage

import (
	"context"
	"io"
	"time"
)

// BlobStore persists export artifacts and hands out time-limited links to them.
type BlobStore interface {
	// Write stores the reader's content under key. size is -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// GetURL returns a link to key that stops working after expires.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ExportKey is the object key of an export artifact owned by userID.
func ExportKey(userID string, fileName string) string {
	return "exports/" + userID + "/" + fileName
}
