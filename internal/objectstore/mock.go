package objectstore

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Mock is an in-memory Store for tests. It records uploaded keys and can be
// told to fail archive uploads a number of times.
type Mock struct {
	mu               sync.Mutex
	Uploaded         map[string]string // key -> source path
	Archived         map[string]string // key -> source path
	UploadErr        error
	ArchiveFailures  int // fail this many ArchiveUpload calls, then succeed
	ArchiveCallCount int
}

func NewMock() *Mock {
	return &Mock{
		Uploaded: make(map[string]string),
		Archived: make(map[string]string),
	}
}

func (m *Mock) Upload(_ context.Context, localPath, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("local file missing: %w", err)
	}
	m.Uploaded[key] = localPath
	return "https://cdn.test/" + key, nil
}

func (m *Mock) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.Uploaded[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return os.ReadFile(path)
}

func (m *Mock) ArchiveUpload(_ context.Context, localPath, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArchiveCallCount++
	if m.ArchiveCallCount <= m.ArchiveFailures {
		return "", fmt.Errorf("simulated archive failure %d", m.ArchiveCallCount)
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("local file missing: %w", err)
	}
	m.Archived[key] = localPath
	return "gs://archive-test/" + key, nil
}
