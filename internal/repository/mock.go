package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/yifeng260688/datald-sub000/internal/models"
)

// Mock is an in-memory Repository used by pipeline tests.
type Mock struct {
	mu        sync.Mutex
	seq       int
	Uploads   map[string]*models.UploadRecord
	Documents map[string]*models.DocumentRecord

	// Optional error hooks.
	CreateDocumentErr error
	UpdateDocumentErr error
	UpdateStatusErr   error
}

func NewMock() *Mock {
	return &Mock{
		Uploads:   make(map[string]*models.UploadRecord),
		Documents: make(map[string]*models.DocumentRecord),
	}
}

func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *Mock) CreateDocument(_ context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateDocumentErr != nil {
		return nil, m.CreateDocumentErr
	}
	created := *doc
	created.ID = m.nextID("doc")
	m.Documents[created.ID] = &created
	out := created
	return &out, nil
}

func (m *Mock) UpdateDocument(_ context.Context, id string, upd DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateDocumentErr != nil {
		return m.UpdateDocumentErr
	}
	doc, ok := m.Documents[id]
	if !ok {
		return ErrNotFound
	}
	if upd.CoverImageURL != "" {
		doc.CoverImageURL = upd.CoverImageURL
	}
	if upd.Images != nil {
		doc.Images = upd.Images
	}
	if upd.ArchiveURL != "" {
		doc.ArchiveURL = upd.ArchiveURL
	}
	return nil
}

func (m *Mock) GetUploadByID(_ context.Context, uploadID string) (*models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.Uploads[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *up
	return &out, nil
}

func (m *Mock) CreateUpload(_ context.Context, up *models.UploadRecord) (*models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := *up
	if created.ID == "" {
		created.ID = m.nextID("upload")
	}
	if created.PipelineStatus == "" {
		created.PipelineStatus = models.StatusNotStarted
	}
	m.Uploads[created.ID] = &created
	out := created
	return &out, nil
}

func (m *Mock) UpdatePipelineStatus(_ context.Context, uploadID string, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateStatusErr != nil {
		return m.UpdateStatusErr
	}
	up, ok := m.Uploads[uploadID]
	if !ok {
		return ErrNotFound
	}
	up.PipelineStatus = upd.Status
	up.PipelineError = upd.Error
	if upd.StartedAt != nil {
		up.PipelineStartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		up.PipelineCompletedAt = upd.CompletedAt
	}
	return nil
}

func (m *Mock) FindUploadByContentHash(_ context.Context, hash, excludeUploadID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, up := range m.Uploads {
		if id != excludeUploadID && up.ContentHash == hash && hash != "" {
			return id, nil
		}
	}
	return "", nil
}
