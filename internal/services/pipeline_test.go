package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
)

type pipelineFixture struct {
	repo     *repository.Mock
	store    *objectstore.Mock
	renderer *fakeRenderer
	pipeline *Pipeline
	scratch  string
}

func newPipelineFixture(t *testing.T, maxRows int) *pipelineFixture {
	t.Helper()
	repo := repository.NewMock()
	store := objectstore.NewMock()
	renderer := &fakeRenderer{imagesPerCall: 2}
	scratch := t.TempDir()

	pipe := NewPipeline(
		repo,
		store,
		renderer,
		NewPDFConverter(&stubExtractor{text: "name\tphone\nAlice\t111\nBob\t222\n", pageCount: 1}),
		nil,
		NewRunner(),
		PipelineConfig{
			AdminScratchRoot: filepath.Join(scratch, "pipeline-output"),
			UserScratchRoot:  filepath.Join(scratch, "user-pipeline-output"),
			MaxRowsPerPart:   maxRows,
			DefaultCategory:  "data",
		},
	)
	return &pipelineFixture{repo: repo, store: store, renderer: renderer, pipeline: pipe, scratch: scratch}
}

func (f *pipelineFixture) addUpload(t *testing.T, id, path, title string) *models.UploadRecord {
	t.Helper()
	up, err := f.repo.CreateUpload(context.Background(), &models.UploadRecord{
		ID:               id,
		Path:             path,
		OriginalFileName: filepath.Base(path),
		Title:            title,
		Category:         "business",
		PipelineStatus:   models.StatusPending,
	})
	require.NoError(t, err)
	return up
}

func (f *pipelineFixture) sortedDocs() []*models.DocumentRecord {
	docs := make([]*models.DocumentRecord, 0, len(f.repo.Documents))
	for _, d := range f.repo.Documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].PostIndex < docs[j].PostIndex })
	return docs
}

func smallWorkbook(t *testing.T, dir string, dataRowCount int) string {
	t.Helper()
	path := filepath.Join(dir, "upload.xlsx")
	writeWorkbook(t, path, testSheet{
		name: "Sheet1",
		rows: append([][]string{{"name", "phone"}}, dataRows("r", dataRowCount)...),
	})
	return path
}

func TestRunSingleFileCompletes(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 5)
	f.addUpload(t, "up-1", src, "Tiêu đề")

	err := f.pipeline.Run(context.Background(), "up-1", src, models.SourceAdmin)
	require.NoError(t, err)

	up := f.repo.Uploads["up-1"]
	assert.Equal(t, models.StatusCompleted, up.PipelineStatus)
	assert.Empty(t, up.PipelineError)
	assert.NotNil(t, up.PipelineStartedAt)
	assert.NotNil(t, up.PipelineCompletedAt)

	require.Len(t, f.repo.Documents, 1)
	for _, doc := range f.repo.Documents {
		assert.Equal(t, "Tiêu đề", doc.Title)
		assert.Equal(t, 2, doc.PageCount)
		assert.Zero(t, doc.TotalParts)
		assert.NotEmpty(t, doc.ArchiveURL)
	}

	// Cleanup-on-success: working file and the whole scratch tree are gone.
	assert.NoFileExists(t, src)
	assert.NoDirExists(t, filepath.Join(f.scratch, "pipeline-output", "up-1"))
}

func TestRunSplitLinkageAndCleanup(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 25)
	f.addUpload(t, "up-split", src, "Bộ dữ liệu")

	err := f.pipeline.Run(context.Background(), "up-split", src, models.SourceAdmin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, f.repo.Uploads["up-split"].PipelineStatus)

	docs := f.sortedDocs()
	require.Len(t, docs, 3)
	parent := docs[0]
	assert.Empty(t, parent.ParentPostID)
	assert.Equal(t, "[1] - Bộ dữ liệu", parent.Title)
	for i, doc := range docs {
		assert.Equal(t, i+1, doc.PostIndex)
		assert.Equal(t, 3, doc.TotalParts)
		if i > 0 {
			assert.Equal(t, parent.PostID, doc.ParentPostID)
		}
	}

	assert.Len(t, f.store.Archived, 3, "each part archived under its own post id")
	assert.NoFileExists(t, src, "original deleted after the last part archived")
	assert.NoDirExists(t, filepath.Join(f.scratch, "pipeline-output", "up-split"))
}

func TestRunSplitRenderFailureKeepsEarlierParts(t *testing.T) {
	f := newPipelineFixture(t, 10)
	f.renderer.failOnCall = 2
	src := smallWorkbook(t, t.TempDir(), 25)
	f.addUpload(t, "up-fail", src, "T")

	err := f.pipeline.Run(context.Background(), "up-fail", src, models.SourceAdmin)
	require.Error(t, err)

	up := f.repo.Uploads["up-fail"]
	assert.Equal(t, models.StatusFailed, up.PipelineStatus)
	assert.Contains(t, up.PipelineError, "rendering failed for part 2")

	// Part 1 was already published and is kept; no rollback.
	assert.Len(t, f.repo.Documents, 1)
	// Remaining split parts stay on disk for the manual retry path.
	splitDir := filepath.Join(f.scratch, "pipeline-output", "up-fail", "split-files")
	entries, readErr := os.ReadDir(splitDir)
	require.NoError(t, readErr)
	assert.NotEmpty(t, entries)
}

func TestRunArchiveFailureStillCompletes(t *testing.T) {
	f := newPipelineFixture(t, 10)
	f.store.ArchiveFailures = 2
	src := smallWorkbook(t, t.TempDir(), 5)
	f.addUpload(t, "up-arch", src, "T")

	err := f.pipeline.Run(context.Background(), "up-arch", src, models.SourceAdmin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, f.repo.Uploads["up-arch"].PipelineStatus)
	require.Len(t, f.repo.Documents, 1)
	for _, doc := range f.repo.Documents {
		assert.Empty(t, doc.ArchiveURL)
	}
	assert.FileExists(t, src, "working file preserved for manual recovery")
}

func TestRunRenderFailureSingleFile(t *testing.T) {
	f := newPipelineFixture(t, 10)
	f.renderer.failOnCall = 1
	src := smallWorkbook(t, t.TempDir(), 5)
	f.addUpload(t, "up-render", src, "T")

	err := f.pipeline.Run(context.Background(), "up-render", src, models.SourceAdmin)
	require.Error(t, err)

	up := f.repo.Uploads["up-render"]
	assert.Equal(t, models.StatusFailed, up.PipelineStatus)
	assert.Contains(t, up.PipelineError, "rendering failed")
	assert.Empty(t, f.repo.Documents, "no document created on render failure")
	assert.FileExists(t, src)
}

func TestRunPDFUploadIsNormalized(t *testing.T) {
	f := newPipelineFixture(t, 10)
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 fake"), 0o644))
	f.addUpload(t, "up-pdf", src, "Scan")

	err := f.pipeline.Run(context.Background(), "up-pdf", src, models.SourceAdmin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, f.repo.Uploads["up-pdf"].PipelineStatus)
	require.Len(t, f.repo.Documents, 1)
	assert.NoFileExists(t, src, "original PDF removed after archival")
	assert.NoDirExists(t, filepath.Join(f.scratch, "pipeline-output", "up-pdf"))
}

func TestRunPDFExtractionFailure(t *testing.T) {
	f := newPipelineFixture(t, 10)
	f.pipeline.converter = NewPDFConverter(&stubExtractor{text: "", pageCount: 0})
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))
	f.addUpload(t, "up-empty", src, "T")

	err := f.pipeline.Run(context.Background(), "up-empty", src, models.SourceAdmin)
	require.Error(t, err)

	up := f.repo.Uploads["up-empty"]
	assert.Equal(t, models.StatusFailed, up.PipelineStatus)
	assert.Contains(t, up.PipelineError, "failed to extract rows from PDF")
	assert.Empty(t, f.repo.Documents)
}

func TestRunUnsupportedTypeSkipped(t *testing.T) {
	f := newPipelineFixture(t, 10)
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	f.addUpload(t, "up-txt", src, "T")

	err := f.pipeline.Run(context.Background(), "up-txt", src, models.SourceAdmin)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkipped, f.repo.Uploads["up-txt"].PipelineStatus)
	assert.Empty(t, f.repo.Documents)
	assert.FileExists(t, src, "skipped files are never deleted")
}

func TestRunDuplicateContentSkipped(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 5)
	hash, err := fileContentHash(src)
	require.NoError(t, err)

	existing := f.addUpload(t, "up-old", src, "T")
	f.repo.Uploads[existing.ID].ContentHash = hash
	f.addUpload(t, "up-new", src, "T")

	err = f.pipeline.Run(context.Background(), "up-new", src, models.SourceAdmin)
	require.NoError(t, err)

	up := f.repo.Uploads["up-new"]
	assert.Equal(t, models.StatusSkipped, up.PipelineStatus)
	assert.Contains(t, up.PipelineError, "duplicate of upload up-old")
	assert.Empty(t, f.repo.Documents)
	assert.FileExists(t, src)
}

func TestRunUserSourceUsesUserScratchRoot(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 5)
	f.addUpload(t, "up-user", src, "T")

	err := f.pipeline.Run(context.Background(), "up-user", src, models.SourceUser)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, f.repo.Uploads["up-user"].PipelineStatus)
	assert.NoDirExists(t, filepath.Join(f.scratch, "user-pipeline-output", "up-user"))
}

func TestRunCompletedUploadIsNotReprocessed(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 5)
	up := f.addUpload(t, "up-done", src, "T")
	f.repo.Uploads[up.ID].PipelineStatus = models.StatusCompleted

	err := f.pipeline.Run(context.Background(), "up-done", src, models.SourceAdmin)
	require.NoError(t, err)

	assert.Empty(t, f.repo.Documents)
	assert.FileExists(t, src)
	assert.Zero(t, f.renderer.calls)
}

func TestProcessAdminUploadRunsInBackground(t *testing.T) {
	f := newPipelineFixture(t, 10)
	src := smallWorkbook(t, t.TempDir(), 5)
	f.addUpload(t, "up-bg", src, "T")

	f.pipeline.ProcessAdminUpload("up-bg", src)
	f.pipeline.runner.Wait()

	assert.Equal(t, models.StatusCompleted, f.repo.Uploads["up-bg"].PipelineStatus)
}
