package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yifeng260688/datald-sub000/internal/gcp"
)

// GCSStore implements Store against two buckets: a public one serving page
// images and a private one holding sanitized archive copies.
type GCSStore struct {
	client        *storage.Client
	publicBucket  string
	archiveBucket string
}

func NewGCSStore(client *storage.Client, publicBucket, archiveBucket string) (*GCSStore, error) {
	if publicBucket == "" || archiveBucket == "" {
		return nil, fmt.Errorf("both public and archive bucket names must be set")
	}
	return &GCSStore{
		client:        client,
		publicBucket:  publicBucket,
		archiveBucket: archiveBucket,
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := s.writeObject(ctx, s.publicBucket, key, localPath)
		if err == nil {
			return publicURL(s.publicBucket, key), nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"object", key,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "object", key, "error", ctx.Err())
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("upload for %s failed after all retries: %w", key, lastErr)
}

func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.publicBucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get object reader for gs://%s/%s: %w", s.publicBucket, key, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) ArchiveUpload(ctx context.Context, localPath, key string) (string, error) {
	bucket := s.client.Bucket(s.archiveBucket)
	if err := gcp.SaveFileAtomically(ctx, bucket, key, localPath); err != nil {
		return "", fmt.Errorf("archive upload of %s failed: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.archiveBucket, key), nil
}

func (s *GCSStore) writeObject(ctx context.Context, bucket, key, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer src.Close()

	writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
	defer cancel()

	writer := s.client.Bucket(bucket).Object(key).NewWriter(writeCtx)
	if _, err := io.Copy(writer, src); err != nil {
		_ = writer.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func publicURL(bucket, key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}
