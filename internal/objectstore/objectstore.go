// Package objectstore wraps the object-storage collaborator behind the
// narrow interface the pipeline consumes. Operations are idempotent by key,
// so retries are safe.
package objectstore

import "context"

type Store interface {
	// Upload pushes a local file to the public store and returns the serving
	// URL. The pipeline relies on at-least-once semantics.
	Upload(ctx context.Context, localPath, key string) (string, error)
	// Download fetches an object's bytes by key.
	Download(ctx context.Context, key string) ([]byte, error)
	// ArchiveUpload pushes a local file to the private archive. No internal
	// retry: the archiver owns its single retry by contract.
	ArchiveUpload(ctx context.Context, localPath, key string) (string, error)
}
