package models

import "time"

// PipelineStatus tracks an upload's progress through the ingestion pipeline.
type PipelineStatus string

const (
	StatusNotStarted PipelineStatus = "not_started"
	StatusPending    PipelineStatus = "pending"
	StatusProcessing PipelineStatus = "processing"
	StatusCompleted  PipelineStatus = "completed"
	StatusFailed     PipelineStatus = "failed"
	StatusSkipped    PipelineStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s PipelineStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// UploadSource identifies which submission channel an upload came through.
// It determines the scratch-space root the pipeline uses for that run.
type UploadSource string

const (
	SourceAdmin UploadSource = "admin"
	SourceUser  UploadSource = "user"
)

// UploadRecord is the master record for one submitted file. The pipeline
// mutates only the pipelineStatus group of fields; deletion of the record is
// an admin action outside the pipeline.
type UploadRecord struct {
	ID                  string         `firestore:"-"`
	Path                string         `firestore:"path,omitempty"`
	OriginalFileName    string         `firestore:"originalFileName,omitempty"`
	MimeType            string         `firestore:"mimeType,omitempty"`
	Size                int64          `firestore:"size,omitempty"`
	ContentHash         string         `firestore:"contentHash,omitempty"`
	Source              UploadSource   `firestore:"source,omitempty"`
	Category            string         `firestore:"category,omitempty"`
	Subcategory         string         `firestore:"subcategory,omitempty"`
	Title               string         `firestore:"title,omitempty"`
	Description         string         `firestore:"description,omitempty"`
	PipelineStatus      PipelineStatus `firestore:"pipelineStatus,omitempty"`
	PipelineError       string         `firestore:"pipelineError,omitempty"`
	PipelineStartedAt   *time.Time     `firestore:"pipelineStartedAt,omitempty"`
	PipelineCompletedAt *time.Time     `firestore:"pipelineCompletedAt,omitempty"`
	CreatedAt           time.Time      `firestore:"createdAt,omitempty"`
}
