package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/yifeng260688/datald-sub000/internal/gcp"
	"github.com/yifeng260688/datald-sub000/internal/models"
	"github.com/yifeng260688/datald-sub000/internal/objectstore"
	"github.com/yifeng260688/datald-sub000/internal/repository"
	"github.com/yifeng260688/datald-sub000/internal/services"
)

var (
	pipelineInstance *services.Pipeline
	runnerInstance   *services.Runner
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ProcessUpload", handleProcessUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// triggerRequest is the upload-handling layer's hand-off payload.
type triggerRequest struct {
	UploadID string `json:"uploadId"`
	FilePath string `json:"filePath"`
	Source   string `json:"source"` // "admin" or "user"
}

type triggerResponse struct {
	Status   string `json:"status"`
	UploadID string `json:"uploadId"`
}

// handleProcessUpload accepts a pipeline trigger and returns immediately;
// the run itself is fire-and-forget.
func handleProcessUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		pipelineInstance, runnerInstance, initErr = initPipeline(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during worker initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode trigger request", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.UploadID == "" || req.FilePath == "" {
		http.Error(w, "Bad Request: uploadId and filePath are required", http.StatusBadRequest)
		return
	}

	if req.Source == string(models.SourceUser) {
		pipelineInstance.ProcessUserUploadApproval(req.UploadID, req.FilePath)
	} else {
		pipelineInstance.ProcessAdminUpload(req.UploadID, req.FilePath)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(triggerResponse{Status: "accepted", UploadID: req.UploadID}); err != nil {
		slog.Error("Failed to write trigger response", "error", err)
	}
}

func initPipeline(ctx context.Context) (*services.Pipeline, *services.Runner, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Storage client: %w", err)
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
		return nil, nil, err
	}

	renderTimeout, err := time.ParseDuration(gcp.GetEnv("RENDER_TIMEOUT", "10m"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid RENDER_TIMEOUT: %w", err)
	}
	renderer, err := services.NewRenderAdapter(services.RenderConfig{
		PythonBin:    gcp.GetEnv("RENDER_PYTHON_BIN", "python3"),
		ScriptPath:   gcp.GetEnv("RENDER_SCRIPT_PATH", "pipeline/excel_to_png.py"),
		TemplatePath: gcp.GetEnv("RENDER_TEMPLATE_PATH", "pipeline/templates/page.html"),
		Timeout:      renderTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	converter := services.NewPDFConverter(services.NewPDFTextExtractor())

	var enricher *services.MetadataEnricher
	if region := gcp.GetEnv("VERTEX_AI_REGION", ""); region != "" {
		vertexClient, err := gcp.NewVertexClient(ctx, projectID, region)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		enricher = services.NewMetadataEnricher(vertexClient)
	}

	runner := services.NewRunner()
	pipeline := services.NewPipeline(repo, store, renderer, converter, enricher, runner, services.PipelineConfig{
		AdminScratchRoot: gcp.GetEnv("ADMIN_SCRATCH_ROOT", "uploads/pipeline-output"),
		UserScratchRoot:  gcp.GetEnv("USER_SCRATCH_ROOT", "uploads/user-pipeline-output"),
		DefaultCategory:  gcp.GetEnv("DEFAULT_CATEGORY", "data"),
	})

	slog.Info("Pipeline worker initialized.", "projectId", projectID)
	return pipeline, runner, nil
}
