// Package blobstore persists message attachments. When R2/S3
// credentials are configured, blobs go to that bucket; otherwise they
// fall back to a local directory (spec.md §6: "Empty Bucket means fall
// back to local filesystem").
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a Get misses.
var ErrNotFound = errors.New("blobstore: object not found")

// Store persists and retrieves attachment bytes by key. Keys are
// caller-chosen, typically "<group_id>/<message_id>/<n>".
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
