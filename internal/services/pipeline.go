package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
)

// PipelineConfig holds the orchestrator's filesystem roots and defaults.
type PipelineConfig struct {
	// AdminScratchRoot and UserScratchRoot hold per-run scratch dirs keyed
	// by upload ID, e.g. uploads/pipeline-output/{uploadId}/.
	AdminScratchRoot string
	UserScratchRoot  string
	MaxRowsPerPart   int
	DefaultCategory  string
}

// Pipeline is the per-upload ingestion state machine:
// processing -> [normalize] -> count -> render/publish/archive (per part)
// -> completed | failed. Each run owns its scratch directory exclusively, so
// concurrent runs never collide.
type Pipeline struct {
	repo      repository.Repository
	store     objectstore.Store
	renderer  Renderer
	converter *PDFConverter
	sanitizer *Sanitizer
	splitter  *Splitter
	publisher *Publisher
	archiver  *Archiver
	enricher  *MetadataEnricher // optional
	runner    *Runner
	config    PipelineConfig
}

func NewPipeline(
	repo repository.Repository,
	store objectstore.Store,
	renderer Renderer,
	converter *PDFConverter,
	enricher *MetadataEnricher,
	runner *Runner,
	config PipelineConfig,
) *Pipeline {
	if config.AdminScratchRoot == "" {
		config.AdminScratchRoot = filepath.Join("uploads", "pipeline-output")
	}
	if config.UserScratchRoot == "" {
		config.UserScratchRoot = filepath.Join("uploads", "user-pipeline-output")
	}
	sanitizer := NewSanitizer()
	return &Pipeline{
		repo:      repo,
		store:     store,
		renderer:  renderer,
		converter: converter,
		sanitizer: sanitizer,
		splitter:  NewSplitter(config.MaxRowsPerPart),
		publisher: NewPublisher(repo, store),
		archiver:  NewArchiver(store, sanitizer),
		enricher:  enricher,
		runner:    runner,
		config:    config,
	}
}

// ProcessAdminUpload triggers the pipeline for an admin-submitted file. It
// returns immediately; the run executes in the background.
func (p *Pipeline) ProcessAdminUpload(uploadID, filePath string) {
	p.submit(uploadID, filePath, models.SourceAdmin)
}

// ProcessUserUploadApproval triggers the pipeline for a user-submitted file
// an admin just approved.
func (p *Pipeline) ProcessUserUploadApproval(uploadID, filePath string) {
	p.submit(uploadID, filePath, models.SourceUser)
}

func (p *Pipeline) submit(uploadID, filePath string, source models.UploadSource) {
	name := fmt.Sprintf("pipeline/%s", uploadID)
	p.runner.Submit(name, func(ctx context.Context) error {
		return p.Run(ctx, uploadID, filePath, source)
	}, func(msg string) {
		now := time.Now()
		err := p.repo.UpdatePipelineStatus(context.Background(), uploadID, repository.StatusUpdate{
			Status:      models.StatusFailed,
			Error:       msg,
			CompletedAt: &now,
		})
		if err != nil {
			slog.Error("CRITICAL: failed to mark upload failed after task crash.", "uploadId", uploadID, "error", err)
		}
	})
}

// Run executes one pipeline pass synchronously. Exposed for tests and for
// the manual reprocess path; production triggers go through the background
// submit.
func (p *Pipeline) Run(ctx context.Context, uploadID, filePath string, source models.UploadSource) error {
	logCtx := slog.With("uploadId", uploadID, "file", filepath.Base(filePath))
	logCtx.Info("Pipeline run starting.")

	up, err := p.repo.GetUploadByID(ctx, uploadID)
	if err != nil {
		logCtx.Error("Failed to load upload record.", "error", err)
		return fmt.Errorf("failed to load upload %s: %w", uploadID, err)
	}
	if up.PipelineStatus == models.StatusCompleted {
		logCtx.Info("Upload already completed. Nothing to do.")
		return nil
	}

	kind := detectFileKind(filePath, up.MimeType)
	if kind == kindUnsupported {
		logCtx.Info("Unsupported file type. Skipping pipeline.", "mimeType", up.MimeType)
		return p.finish(ctx, uploadID, models.StatusSkipped, "unsupported file type")
	}

	if dupID, err := p.duplicateOf(ctx, uploadID, filePath); err != nil {
		return p.handleError(ctx, logCtx, uploadID, "failed to check for duplicate content", err)
	} else if dupID != "" {
		logCtx.Info("Duplicate content detected. Skipping.", "existingUploadId", dupID)
		return p.finish(ctx, uploadID, models.StatusSkipped, fmt.Sprintf("duplicate of upload %s", dupID))
	}

	started := time.Now()
	if err := p.repo.UpdatePipelineStatus(ctx, uploadID, repository.StatusUpdate{
		Status:    models.StatusProcessing,
		StartedAt: &started,
	}); err != nil {
		logCtx.Error("Failed to mark upload processing.", "error", err)
		return fmt.Errorf("failed to mark upload processing: %w", err)
	}

	scratchDir := p.scratchDir(uploadID, source)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return p.handleError(ctx, logCtx, uploadID, "failed to create scratch directory", err)
	}

	workingFile := filePath
	convertedFile := ""
	if kind == kindPDF {
		converted, err := p.converter.Convert(ctx, filePath, scratchDir)
		if err != nil {
			return p.handleError(ctx, logCtx, uploadID, "failed to extract rows from PDF", err)
		}
		workingFile = converted
		convertedFile = converted
		logCtx.Info("Normalized PDF to spreadsheet.", "converted", filepath.Base(converted))
	}

	rowCount, err := p.splitter.CountDataRows(workingFile)
	if err != nil {
		return p.handleError(ctx, logCtx, uploadID, "failed to count data rows", err)
	}
	logCtx.Info("Counted data rows.",
		"totalRows", rowCount.TotalRows,
		"needsSplit", rowCount.NeedsSplit,
		"estimatedParts", rowCount.PartCount,
	)

	meta := p.resolveMetadata(ctx, logCtx, up, workingFile)

	if rowCount.NeedsSplit {
		err = p.runSplit(ctx, logCtx, uploadID, filePath, workingFile, convertedFile, scratchDir, meta)
	} else {
		err = p.runSingle(ctx, logCtx, uploadID, filePath, workingFile, scratchDir, meta)
	}
	if err != nil {
		return err
	}

	p.sweepScratch(logCtx, scratchDir)
	logCtx.Info("Pipeline run completed.")
	return p.finish(ctx, uploadID, models.StatusCompleted, "")
}

type documentMetadata struct {
	Title       string
	Description string
	Category    string
	Subcategory string
	FileName    string
}

func (p *Pipeline) resolveMetadata(ctx context.Context, logCtx *slog.Logger, up *models.UploadRecord, workingFile string) documentMetadata {
	meta := documentMetadata{
		Title:       up.Title,
		Description: up.Description,
		Category:    up.Category,
		Subcategory: up.Subcategory,
		FileName:    up.OriginalFileName,
	}
	if meta.FileName == "" {
		meta.FileName = filepath.Base(workingFile)
	}
	if meta.Category == "" {
		meta.Category = p.config.DefaultCategory
	}
	if meta.Title == "" && p.enricher != nil {
		title, desc, err := p.enricher.Suggest(ctx, workingFile)
		if err != nil {
			logCtx.Warn("Metadata suggestion failed; falling back to filename.", "error", err)
		} else {
			meta.Title = title
			if meta.Description == "" {
				meta.Description = desc
			}
		}
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(meta.FileName, filepath.Ext(meta.FileName))
	}
	return meta
}

func (p *Pipeline) runSingle(ctx context.Context, logCtx *slog.Logger, uploadID, originalPath, workingFile, scratchDir string, meta documentMetadata) error {
	renderDir := filepath.Join(scratchDir, "render")
	result, err := p.renderer.Render(ctx, workingFile, renderDir)
	if err != nil {
		return p.handleError(ctx, logCtx, uploadID, "rendering failed", err)
	}

	doc, err := p.publisher.PublishDocument(ctx, PublishRequest{
		Rendering:        result,
		Title:            meta.Title,
		Description:      meta.Description,
		Category:         meta.Category,
		Subcategory:      meta.Subcategory,
		OriginalFileName: meta.FileName,
	})
	if err != nil {
		return p.handleError(ctx, logCtx, uploadID, "failed to publish document", err)
	}

	p.archive(ctx, logCtx, doc, ArchiveRequest{
		WorkingFile:     workingFile,
		PostID:          doc.PostID,
		OriginalPath:    originalPath,
		DeleteOriginal:  true,
		RenderOutputDir: renderDir,
	})
	return nil
}

func (p *Pipeline) runSplit(ctx context.Context, logCtx *slog.Logger, uploadID, originalPath, workingFile, convertedFile, scratchDir string, meta documentMetadata) error {
	parts, err := p.splitter.Split(workingFile, scratchDir)
	if err != nil {
		return p.handleError(ctx, logCtx, uploadID, "failed to split spreadsheet", err)
	}
	logCtx.Info("Processing split parts sequentially.", "parts", len(parts))

	parentPostID := ""
	for i, part := range parts {
		partLog := logCtx.With("part", i+1, "totalParts", len(parts))

		renderDir := filepath.Join(scratchDir, fmt.Sprintf("part%d", i+1))
		result, err := p.renderer.Render(ctx, part, renderDir)
		if err != nil {
			// Documents already published for earlier parts are kept.
			return p.handleError(ctx, partLog, uploadID, fmt.Sprintf("rendering failed for part %d", i+1), err)
		}

		doc, err := p.publisher.PublishDocument(ctx, PublishRequest{
			Rendering:        result,
			Title:            meta.Title,
			Description:      meta.Description,
			Category:         meta.Category,
			Subcategory:      meta.Subcategory,
			OriginalFileName: meta.FileName,
			ParentPostID:     parentPostID,
			PostIndex:        i + 1,
			TotalParts:       len(parts),
		})
		if err != nil {
			return p.handleError(ctx, partLog, uploadID, fmt.Sprintf("failed to publish part %d", i+1), err)
		}
		if i == 0 {
			parentPostID = doc.PostID
		}

		p.archive(ctx, partLog, doc, ArchiveRequest{
			WorkingFile:     part,
			PostID:          doc.PostID,
			OriginalPath:    originalPath,
			DeleteOriginal:  i == len(parts)-1,
			RenderOutputDir: renderDir,
		})
	}

	// The whole working file's rows all live on in archived parts now.
	if convertedFile != "" {
		if err := os.Remove(convertedFile); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Failed to remove converted file.", "path", convertedFile, "error", err)
		}
	}

	splitDir := filepath.Join(scratchDir, "split-files")
	if err := os.Remove(splitDir); err != nil && !os.IsNotExist(err) {
		// Leftover files mean a part whose archive failed; keep them.
		logCtx.Warn("Split-files directory not empty after run; leaving for manual recovery.", "dir", splitDir, "error", err)
	}
	return nil
}

// archive runs the archive+cleanup step and, when it succeeds, records the
// archive location on the document. Archive failure never fails the run.
func (p *Pipeline) archive(ctx context.Context, logCtx *slog.Logger, doc *models.DocumentRecord, req ArchiveRequest) {
	outcome := p.archiver.ArchiveAndCleanup(ctx, req)
	if !outcome.Success {
		return
	}
	if err := p.repo.UpdateDocument(ctx, doc.ID, repository.DocumentUpdate{ArchiveURL: outcome.ArchiveURL}); err != nil {
		logCtx.Warn("Failed to record archive URL on document.", "documentId", doc.ID, "error", err)
	}
}

func (p *Pipeline) duplicateOf(ctx context.Context, uploadID, filePath string) (string, error) {
	hash, err := fileContentHash(filePath)
	if err != nil {
		return "", err
	}
	return p.repo.FindUploadByContentHash(ctx, hash, uploadID)
}

// finish records a terminal status with its completion time.
func (p *Pipeline) finish(ctx context.Context, uploadID string, status models.PipelineStatus, message string) error {
	now := time.Now()
	upd := repository.StatusUpdate{Status: status, Error: message, CompletedAt: &now}
	if err := p.repo.UpdatePipelineStatus(ctx, uploadID, upd); err != nil {
		slog.Error("CRITICAL: failed to record terminal pipeline status.", "uploadId", uploadID, "status", status, "error", err)
		return fmt.Errorf("failed to record status %s: %w", status, err)
	}
	return nil
}

// handleError logs, flips the upload to failed with a best-effort message,
// and returns the wrapped error for the task boundary.
func (p *Pipeline) handleError(ctx context.Context, logCtx *slog.Logger, uploadID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	now := time.Now()
	err := p.repo.UpdatePipelineStatus(ctx, uploadID, repository.StatusUpdate{
		Status:      models.StatusFailed,
		Error:       fullError,
		CompletedAt: &now,
	})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to update pipeline status to failed after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}

// sweepScratch removes run directories that emptied out during cleanup.
// Anything still holding files is left alone and logged.
func (p *Pipeline) sweepScratch(logCtx *slog.Logger, scratchDir string) {
	for _, sub := range []string{"pdf-converted", "render"} {
		dir := filepath.Join(scratchDir, sub)
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Scratch subdirectory not empty.", "dir", dir, "error", err)
		}
	}
	if err := os.Remove(scratchDir); err != nil && !os.IsNotExist(err) {
		logCtx.Warn("Scratch directory not empty after run.", "dir", scratchDir, "error", err)
	}
}

func (p *Pipeline) scratchDir(uploadID string, source models.UploadSource) string {
	root := p.config.AdminScratchRoot
	if source == models.SourceUser {
		root = p.config.UserScratchRoot
	}
	return filepath.Join(root, uploadID)
}

type fileKind int

const (
	kindSpreadsheet fileKind = iota
	kindPDF
	kindUnsupported
)

func detectFileKind(path, mimeType string) fileKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf" || strings.Contains(mimeType, "application/pdf"):
		return kindPDF
	case ext == ".xlsx" || ext == ".xlsm" || strings.Contains(mimeType, "spreadsheet"):
		return kindSpreadsheet
	default:
		return kindUnsupported
	}
}

func fileContentHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
