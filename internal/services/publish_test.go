package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
)

func renderingFixture(t *testing.T, n int) *models.RenderingResult {
	t.Helper()
	dir := t.TempDir()
	images := make([]models.RenderedImage, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("Sheet1_page_%d.png", i+1))
		require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))
		images[i] = models.RenderedImage{Sheet: "Sheet1", Page: i + 1, Path: p}
	}
	return &models.RenderingResult{
		Success:     true,
		TotalImages: n,
		CoverPhoto:  images[0].Path,
		Images:      images,
		OutputDir:   dir,
	}
}

func TestPublishSinglePartDocument(t *testing.T) {
	repo := repository.NewMock()
	store := objectstore.NewMock()
	p := NewPublisher(repo, store)

	doc, err := p.PublishDocument(context.Background(), PublishRequest{
		Rendering:        renderingFixture(t, 3),
		Title:            "Danh sách doanh nghiệp",
		Description:      "Dữ liệu mẫu",
		Category:         "business",
		Subcategory:      "hanoi",
		OriginalFileName: "dn.xlsx",
	})
	require.NoError(t, err)

	assert.Len(t, doc.PostID, 12)
	assert.Equal(t, "Danh sách doanh nghiệp", doc.Title)
	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, 3, doc.PointsCost)
	assert.Empty(t, doc.ParentPostID)
	assert.Zero(t, doc.PostIndex)
	assert.Zero(t, doc.TotalParts)

	require.Len(t, doc.Images, 3)
	assert.Equal(t, doc.Images[0].URL, doc.CoverImageURL)
	for i, img := range doc.Images {
		assert.Equal(t, i+1, img.Page)
		assert.Contains(t, img.URL, "posts/"+doc.PostID+"/")
	}

	stored := repo.Documents[doc.ID]
	require.NotNil(t, stored)
	assert.Equal(t, doc.CoverImageURL, stored.CoverImageURL)
	assert.Len(t, store.Uploaded, 3)
}

func TestPublishPartDecorationAndLinkage(t *testing.T) {
	repo := repository.NewMock()
	store := objectstore.NewMock()
	p := NewPublisher(repo, store)

	part2, err := p.PublishDocument(context.Background(), PublishRequest{
		Rendering:    renderingFixture(t, 1),
		Title:        "Khách hàng tiềm năng",
		Description:  "Mô tả",
		ParentPostID: "parentpost123",
		PostIndex:    2,
		TotalParts:   3,
	})
	require.NoError(t, err)

	assert.Equal(t, "[2] - Khách hàng tiềm năng", part2.Title)
	assert.Equal(t, "Mô tả (Phần 2/3)", part2.Description)
	assert.Equal(t, "parentpost123", part2.ParentPostID)
	assert.Equal(t, 2, part2.PostIndex)
	assert.Equal(t, 3, part2.TotalParts)
}

func TestPublishFirstPartHasNoParent(t *testing.T) {
	p := NewPublisher(repository.NewMock(), objectstore.NewMock())

	part1, err := p.PublishDocument(context.Background(), PublishRequest{
		Rendering:  renderingFixture(t, 1),
		Title:      "T",
		PostIndex:  1,
		TotalParts: 3,
	})
	require.NoError(t, err)

	assert.Empty(t, part1.ParentPostID)
	assert.Equal(t, 1, part1.PostIndex)
	assert.Equal(t, 3, part1.TotalParts)
	assert.Equal(t, "[1] - T", part1.Title)
}

func TestPublishRejectsEmptyRendering(t *testing.T) {
	p := NewPublisher(repository.NewMock(), objectstore.NewMock())

	_, err := p.PublishDocument(context.Background(), PublishRequest{
		Rendering: &models.RenderingResult{Success: true},
		Title:     "T",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no images")
}

func TestPublishSurfacesUploadFailure(t *testing.T) {
	repo := repository.NewMock()
	store := objectstore.NewMock()
	store.UploadErr = assert.AnError
	p := NewPublisher(repo, store)

	_, err := p.PublishDocument(context.Background(), PublishRequest{
		Rendering: renderingFixture(t, 2),
		Title:     "T",
	})
	require.Error(t, err)
	// The record was created before the upload failed; that is accepted.
	assert.Len(t, repo.Documents, 1)
}
