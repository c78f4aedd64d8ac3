package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/yifeng260688/datald-sub000/internal/gcp"
	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
	"github.com/yifeng260688/datald-sub000/internal/services"
)

var (
	watcherInstance *watcher
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("WatchUploads", watchUploads)
}

// main is required by the Go Functions Framework.
func main() {}

// gcsEvent is the payload of a GCS object-finalize event.
type gcsEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Size   string `json:"size"`
}

// watchUploads reacts to new objects landing in the intake bucket: it pulls
// the file down, registers an upload record, and hands the record to the
// pipeline worker.
func watchUploads(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		watcherInstance, initErr = newWatcher(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during watcher initialization", "error", initErr)
		return initErr
	}

	var evt gcsEvent
	if err := json.Unmarshal(e.Data(), &evt); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return watcherInstance.process(ctx, evt)
}

type uploadRegistrar interface {
	CreateUpload(ctx context.Context, up *models.UploadRecord) (*models.UploadRecord, error)
}

type pipelineTrigger interface {
	ProcessAdminUpload(uploadID, filePath string)
}

type watcher struct {
	storageClient *storage.Client
	repo          uploadRegistrar
	pipeline      pipelineTrigger
	uploadRoot    string
}

func newWatcher(ctx context.Context) (*watcher, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	repo := repository.NewFirestoreRepository(
		firestoreClient,
		gcp.GetEnv("UPLOADS_COLLECTION", "uploads"),
		gcp.GetEnv("POSTS_COLLECTION", "posts"),
	)
	store, err := objectstore.NewGCSStore(
		storageClient,
		gcp.GetEnv("PUBLIC_BUCKET", ""),
		gcp.GetEnv("ARCHIVE_BUCKET", ""),
	)
	if err != nil {
		return nil, err
	}
	renderTimeout, err := time.ParseDuration(gcp.GetEnv("RENDER_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_TIMEOUT: %w", err)
	}
	renderer, err := services.NewRenderAdapter(services.RenderConfig{
		PythonBin:    gcp.GetEnv("RENDER_PYTHON_BIN", "python3"),
		ScriptPath:   gcp.GetEnv("RENDER_SCRIPT_PATH", "pipeline/excel_to_png.py"),
		TemplatePath: gcp.GetEnv("RENDER_TEMPLATE_PATH", "pipeline/templates/page.html"),
		Timeout:      renderTimeout,
	})
	if err != nil {
		return nil, err
	}
	converter := services.NewPDFConverter(services.NewPDFTextExtractor())
	pipeline := services.NewPipeline(repo, store, renderer, converter, nil, services.NewRunner(), services.PipelineConfig{
		AdminScratchRoot: gcp.GetEnv("ADMIN_SCRATCH_ROOT", "uploads/pipeline-output"),
		UserScratchRoot:  gcp.GetEnv("USER_SCRATCH_ROOT", "uploads/user-pipeline-output"),
		DefaultCategory:  gcp.GetEnv("DEFAULT_CATEGORY", "data"),
	})

	w := &watcher{
		storageClient: storageClient,
		repo:          repo,
		pipeline:      pipeline,
		uploadRoot:    gcp.GetEnv("UPLOAD_ROOT", filepath.Join("uploads", "admin")),
	}
	slog.Info("Upload watcher initialized.", "projectId", projectID)
	return w, nil
}

func (w *watcher) process(ctx context.Context, evt gcsEvent) error {
	logCtx := slog.With("gcsBucket", evt.Bucket, "gcsObject", evt.Name)
	logCtx.Info("Processing new upload object.")

	uploadID := uuid.NewString()
	localDir := filepath.Join(w.uploadRoot, uploadID)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	fileName := filepath.Base(evt.Name)
	localPath := filepath.Join(localDir, fileName)
	size, contentHash, err := w.downloadObject(ctx, evt.Bucket, evt.Name, localPath)
	if err != nil {
		logCtx.Error("Failed to download upload object", "error", err)
		return err
	}

	up := &models.UploadRecord{
		ID:               uploadID,
		Path:             localPath,
		OriginalFileName: fileName,
		MimeType:         mimeTypeFor(fileName),
		Size:             size,
		ContentHash:      contentHash,
		Source:           models.SourceAdmin,
		PipelineStatus:   models.StatusPending,
	}
	created, err := w.repo.CreateUpload(ctx, up)
	if err != nil {
		logCtx.Error("Failed to create upload record", "error", err)
		return err
	}

	w.pipeline.ProcessAdminUpload(created.ID, localPath)
	logCtx.Info("Upload registered and pipeline triggered.", "uploadId", created.ID)
	return nil
}

// downloadObject copies the object to destPath and returns its size and
// sha256 hex digest. The digest feeds the duplicate-content check.
func (w *watcher) downloadObject(ctx context.Context, bucket, object, destPath string) (int64, string, error) {
	reader, err := w.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	hash := sha256.New()
	n, err := io.Copy(localFile, io.TeeReader(reader, hash))
	if err != nil {
		return 0, "", fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

func mimeTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	default:
		return "application/octet-stream"
	}
}
