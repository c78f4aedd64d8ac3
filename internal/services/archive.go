package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yifeng260688/datald-sub000/internal/objectstore"
)

// ArchiveRequest names everything the archiver touches for one processed
// unit.
type ArchiveRequest struct {
	// WorkingFile is the unit's spreadsheet: the upload itself, the
	// converted copy of a PDF, or one split part.
	WorkingFile string
	PostID      string
	// OriginalPath is the source upload; deleted together with the working
	// file when DeleteOriginal is set and archival succeeded.
	OriginalPath   string
	DeleteOriginal bool
	// RenderOutputDir is pure derived output and is always removed.
	RenderOutputDir string
}

// ArchiveOutcome reports whether the sanitized copy reached the archive.
// Failure is non-fatal to the pipeline: the document stays published and the
// working file stays on disk for manual recovery.
type ArchiveOutcome struct {
	Success    bool
	ArchiveURL string
}

// Archiver uploads a sanitized copy of each processed unit to the private
// archive, keyed by the published document's public identifier, then cleans
// up the unit's local artifacts.
type Archiver struct {
	store     objectstore.Store
	sanitizer *Sanitizer
}

func NewArchiver(store objectstore.Store, sanitizer *Sanitizer) *Archiver {
	return &Archiver{store: store, sanitizer: sanitizer}
}

// ArchiveAndCleanup runs the archive sequence. Cleanup failures are logged
// warnings only; they never escalate.
func (a *Archiver) ArchiveAndCleanup(ctx context.Context, req ArchiveRequest) ArchiveOutcome {
	logCtx := slog.With("postId", req.PostID, "workingFile", req.WorkingFile)

	// Render output is reconstructible from the working file; discard it on
	// every path.
	defer func() {
		if req.RenderOutputDir == "" {
			return
		}
		if err := os.RemoveAll(req.RenderOutputDir); err != nil {
			logCtx.Warn("Failed to remove render output dir.", "dir", req.RenderOutputDir, "error", err)
		}
	}()

	archiveURL, err := a.archiveSanitizedCopy(ctx, logCtx, req)
	if err != nil {
		// The working file may now be the only remaining copy of the data.
		logCtx.Error("Archival failed; keeping working file for manual recovery.",
			"error", err,
			"recoveryPath", req.WorkingFile,
		)
		return ArchiveOutcome{}
	}

	if err := os.Remove(req.WorkingFile); err != nil {
		logCtx.Warn("Failed to remove working file.", "error", err)
	}
	if req.DeleteOriginal && req.OriginalPath != "" && req.OriginalPath != req.WorkingFile {
		if err := os.Remove(req.OriginalPath); err != nil {
			logCtx.Warn("Failed to remove original upload.", "path", req.OriginalPath, "error", err)
		}
	}

	logCtx.Info("Archived and cleaned up.", "archiveUrl", archiveURL)
	return ArchiveOutcome{Success: true, ArchiveURL: archiveURL}
}

// archiveSanitizedCopy sanitizes the working file into a temp dir under the
// archive naming convention ({postId}.{ext}, discarding the uploader-chosen
// name) and uploads it, retrying exactly once. The temp dir is removed
// regardless of outcome.
func (a *Archiver) archiveSanitizedCopy(ctx context.Context, logCtx *slog.Logger, req ArchiveRequest) (string, error) {
	tempDir, err := os.MkdirTemp("", "archive-*")
	if err != nil {
		return "", fmt.Errorf("failed to create archive temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logCtx.Warn("Failed to remove archive temp dir.", "dir", tempDir, "error", err)
		}
	}()

	cleanedPath, err := a.sanitizer.Sanitize(req.WorkingFile)
	if err != nil {
		return "", fmt.Errorf("failed to sanitize for archive: %w", err)
	}
	defer func() {
		if err := os.Remove(cleanedPath); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Failed to remove sanitized temp copy.", "path", cleanedPath, "error", err)
		}
	}()

	archiveName := req.PostID + filepath.Ext(req.WorkingFile)
	archivePath := filepath.Join(tempDir, archiveName)
	if err := copyFile(cleanedPath, archivePath); err != nil {
		return "", fmt.Errorf("failed to stage archive copy: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		url, err := a.store.ArchiveUpload(ctx, archivePath, archiveName)
		if err == nil {
			return url, nil
		}
		lastErr = err
		logCtx.Warn("Archive upload failed.", "attempt", attempt, "error", err)
	}
	return "", lastErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
