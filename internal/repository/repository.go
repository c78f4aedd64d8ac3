// Package repository defines the narrow persistence interface the pipeline
// consumes. The pipeline never sees Firestore types directly; everything goes
// through this port so tests can run against the in-memory fake.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yifeng260688/datald-sub000/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("repository: record not found")

// StatusUpdate carries the mutable pipeline fields of an upload record.
// Nil pointers mean "leave unchanged".
type StatusUpdate struct {
	Status      models.PipelineStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// DocumentUpdate carries the fields the publisher writes back after image
// upload. Only non-zero fields are applied.
type DocumentUpdate struct {
	CoverImageURL string
	Images        []models.DocumentImage
	ArchiveURL    string
}

type Repository interface {
	// CreateDocument persists a new document record and returns it with
	// storage-assigned identifiers populated.
	CreateDocument(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error)
	UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error
	GetUploadByID(ctx context.Context, uploadID string) (*models.UploadRecord, error)
	CreateUpload(ctx context.Context, up *models.UploadRecord) (*models.UploadRecord, error)
	UpdatePipelineStatus(ctx context.Context, uploadID string, upd StatusUpdate) error
	// FindUploadByContentHash returns the ID of another upload with the same
	// content hash, or "" when none exists.
	FindUploadByContentHash(ctx context.Context, hash, excludeUploadID string) (string, error)
}
