// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix for a run's artifacts.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes images and run artifacts to a GCS bucket.
type BlobStore struct {
	bucket string
	prefix string
	open   func(ctx context.Context, object, contentType string) io.WriteCloser
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return newBlobStore(cfg, func(ctx context.Context, object, contentType string) io.WriteCloser {
		w := bucket.Object(object).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		return w
	})
}

func newBlobStore(cfg Config, open func(ctx context.Context, object, contentType string) io.WriteCloser) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		open:   open,
	}, nil
}

// PutObject streams data into <prefix>/<path> and returns a gs:// URI. The
// object only becomes visible once the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := strings.TrimPrefix(path.Join(s.prefix, name), "/")
	writer := s.open(ctx, object, contentType)
	if _, err := io.Copy(writer, data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
