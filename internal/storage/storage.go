// Package storage abstracts the object store that holds message
// attachments.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore writes attachment content and returns the stored object's key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
}

// NewObjectKey returns a date-partitioned key for a fresh attachment.
func NewObjectKey() string {
	d := time.Now().UTC()
	return fmt.Sprintf("attachments/%d/%02d/%02d/%s", d.Year(), d.Month(), d.Day(), uuid.NewString())
}
