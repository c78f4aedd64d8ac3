package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
)

// postIDAlphabet keeps public identifiers short and URL-safe.
const postIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const postIDLength = 12

// placeholderCoverURL fills coverImageUrl between record creation and the
// image-URL update.
const placeholderCoverURL = "pending"

// PublishRequest carries one processed unit (a whole upload or one split
// part) into publication.
type PublishRequest struct {
	Rendering        *models.RenderingResult
	Title            string
	Description      string
	Category         string
	Subcategory      string
	OriginalFileName string

	// Part linkage: zero values on single-part uploads.
	ParentPostID string
	PostIndex    int
	TotalParts   int
}

// Publisher creates document records and uploads their page images.
type Publisher struct {
	repo  repository.Repository
	store objectstore.Store
}

func NewPublisher(repo repository.Repository, store objectstore.Store) *Publisher {
	return &Publisher{repo: repo, store: store}
}

// PublishDocument creates exactly one document record, uploads every
// rendered image under posts/{postId}/, then updates the record with the
// cover URL (first image) and the full ordered image list.
func (p *Publisher) PublishDocument(ctx context.Context, req PublishRequest) (*models.DocumentRecord, error) {
	if req.Rendering == nil || len(req.Rendering.Images) == 0 {
		return nil, fmt.Errorf("rendering produced no images to publish")
	}

	postID, err := gonanoid.Generate(postIDAlphabet, postIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate post id: %w", err)
	}

	title := req.Title
	description := req.Description
	if req.TotalParts > 1 {
		title = fmt.Sprintf("[%d] - %s", req.PostIndex, title)
		description = fmt.Sprintf("%s (Phần %d/%d)", description, req.PostIndex, req.TotalParts)
	}

	doc := &models.DocumentRecord{
		PostID:           postID,
		Title:            title,
		Description:      description,
		Category:         req.Category,
		Subcategory:      req.Subcategory,
		PageCount:        len(req.Rendering.Images),
		PointsCost:       len(req.Rendering.Images),
		CoverImageURL:    placeholderCoverURL,
		OriginalFileName: req.OriginalFileName,
	}
	if req.TotalParts > 1 {
		doc.PostIndex = req.PostIndex
		doc.TotalParts = req.TotalParts
		if req.PostIndex > 1 {
			doc.ParentPostID = req.ParentPostID
		}
	}

	created, err := p.repo.CreateDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	logCtx := slog.With("postId", postID, "documentId", created.ID)

	urls, err := p.uploadImages(ctx, postID, req.Rendering.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to upload page images for post %s: %w", postID, err)
	}

	images := make([]models.DocumentImage, len(req.Rendering.Images))
	for i, img := range req.Rendering.Images {
		images[i] = models.DocumentImage{Sheet: img.Sheet, Page: img.Page, URL: urls[i], IsBlurred: img.IsBlurred}
	}
	upd := repository.DocumentUpdate{
		CoverImageURL: urls[0],
		Images:        images,
	}
	if err := p.repo.UpdateDocument(ctx, created.ID, upd); err != nil {
		return nil, fmt.Errorf("failed to update document %s with image urls: %w", created.ID, err)
	}

	created.CoverImageURL = upd.CoverImageURL
	created.Images = images
	logCtx.Info("Published document.", "images", len(images), "partIndex", req.PostIndex, "totalParts", req.TotalParts)
	return created, nil
}

// uploadImages pushes page images concurrently while preserving their render
// order in the returned URL slice.
func (p *Publisher) uploadImages(ctx context.Context, postID string, images []models.RenderedImage) ([]string, error) {
	urls := make([]string, len(images))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)

	for i, img := range images {
		eg.Go(func() error {
			key := fmt.Sprintf("posts/%s/%s", postID, filepath.Base(img.Path))
			url, err := p.store.Upload(gctx, img.Path, key)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i+1, filepath.Base(img.Path), err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}
