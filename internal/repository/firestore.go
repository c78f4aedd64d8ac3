package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yifeng260688/datald-sub000/internal/models"
)

// FirestoreRepository implements Repository on top of two collections:
// uploads (submission records) and posts (published documents).
type FirestoreRepository struct {
	client            *firestore.Client
	uploadsCollection string
	postsCollection   string
}

func NewFirestoreRepository(client *firestore.Client, uploadsCollection, postsCollection string) *FirestoreRepository {
	return &FirestoreRepository{
		client:            client,
		uploadsCollection: uploadsCollection,
		postsCollection:   postsCollection,
	}
}

func (r *FirestoreRepository) CreateDocument(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	doc.CreatedAt = time.Now()
	docRef, _, err := r.client.Collection(r.postsCollection).Add(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	created := *doc
	created.ID = docRef.ID
	return &created, nil
}

func (r *FirestoreRepository) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error {
	var updates []firestore.Update
	if upd.CoverImageURL != "" {
		updates = append(updates, firestore.Update{Path: "coverImageUrl", Value: upd.CoverImageURL})
	}
	if upd.Images != nil {
		updates = append(updates, firestore.Update{Path: "images", Value: upd.Images})
	}
	if upd.ArchiveURL != "" {
		updates = append(updates, firestore.Update{Path: "archiveUrl", Value: upd.ArchiveURL})
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := r.client.Collection(r.postsCollection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreRepository) GetUploadByID(ctx context.Context, uploadID string) (*models.UploadRecord, error) {
	snap, err := r.client.Collection(r.uploadsCollection).Doc(uploadID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload %s: %w", uploadID, err)
	}
	var up models.UploadRecord
	if err := snap.DataTo(&up); err != nil {
		return nil, fmt.Errorf("failed to decode upload %s: %w", uploadID, err)
	}
	up.ID = snap.Ref.ID
	return &up, nil
}

func (r *FirestoreRepository) CreateUpload(ctx context.Context, up *models.UploadRecord) (*models.UploadRecord, error) {
	up.CreatedAt = time.Now()
	if up.PipelineStatus == "" {
		up.PipelineStatus = models.StatusNotStarted
	}
	docRef, _, err := r.client.Collection(r.uploadsCollection).Add(ctx, up)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}
	created := *up
	created.ID = docRef.ID
	return &created, nil
}

func (r *FirestoreRepository) UpdatePipelineStatus(ctx context.Context, uploadID string, upd StatusUpdate) error {
	updates := []firestore.Update{
		{Path: "pipelineStatus", Value: upd.Status},
		{Path: "pipelineError", Value: upd.Error},
	}
	if upd.StartedAt != nil {
		updates = append(updates, firestore.Update{Path: "pipelineStartedAt", Value: *upd.StartedAt})
	}
	if upd.CompletedAt != nil {
		updates = append(updates, firestore.Update{Path: "pipelineCompletedAt", Value: *upd.CompletedAt})
	}
	if _, err := r.client.Collection(r.uploadsCollection).Doc(uploadID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update pipeline status for upload %s: %w", uploadID, err)
	}
	return nil
}

func (r *FirestoreRepository) FindUploadByContentHash(ctx context.Context, hash, excludeUploadID string) (string, error) {
	docs, err := r.client.Collection(r.uploadsCollection).
		Where("contentHash", "==", hash).
		Limit(2).
		Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to query for duplicate hash: %w", err)
	}
	for _, d := range docs {
		if d.Ref.ID != excludeUploadID {
			return d.Ref.ID, nil
		}
	}
	return "", nil
}
