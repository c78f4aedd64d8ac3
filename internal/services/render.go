package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/yifeng260688/datald-sub000/internal/models"
)

// RenderConfig locates the external render engine. The engine is a Python
// script that turns spreadsheet rows into watermarked page images.
type RenderConfig struct {
	PythonBin    string
	ScriptPath   string
	TemplatePath string
	// Timeout bounds one render invocation. Zero disables the bound.
	Timeout time.Duration
}

// Renderer turns a spreadsheet into page images. Satisfied by RenderAdapter
// in production and by fakes in tests.
type Renderer interface {
	Render(ctx context.Context, spreadsheetPath, outputDir string) (*models.RenderingResult, error)
}

// RenderAdapter invokes the render engine as a subprocess. The engine emits
// progress on stderr and, on success, a single JSON handshake line on stdout
// pointing at the result file. The adapter never retries; retry is an
// admin-triggered reprocess.
type RenderAdapter struct {
	config RenderConfig
}

func NewRenderAdapter(config RenderConfig) (*RenderAdapter, error) {
	if config.ScriptPath == "" || config.TemplatePath == "" {
		return nil, fmt.Errorf("render script and template paths must be set")
	}
	if config.PythonBin == "" {
		config.PythonBin = "python3"
	}
	return &RenderAdapter{config: config}, nil
}

// handshake is the single stdout line the engine prints on success.
type handshake struct {
	Success    bool   `json:"success"`
	OutputFile string `json:"outputFile"`
	Error      string `json:"error"`
}

func (a *RenderAdapter) Render(ctx context.Context, spreadsheetPath, outputDir string) (*models.RenderingResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create render output dir: %w", err)
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	task := execute.ExecTask{
		Command: a.config.PythonBin,
		Args:    []string{a.config.ScriptPath, spreadsheetPath, outputDir, a.config.TemplatePath},
	}

	res, err := task.Execute(ctx)
	forwardEngineLog(res.Stderr)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("render engine timed out after %s", a.config.Timeout)
		}
		return nil, fmt.Errorf("failed to start render engine: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("render engine exited with code %d: %s", res.ExitCode, excerpt(res.Stderr))
	}

	hs, err := parseHandshake(res.Stdout)
	if err != nil {
		return nil, err
	}
	if !hs.Success {
		msg := hs.Error
		if msg == "" {
			msg = excerpt(res.Stdout)
		}
		return nil, fmt.Errorf("render engine reported failure: %s", msg)
	}

	data, err := os.ReadFile(hs.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read render result file %s: %w", hs.OutputFile, err)
	}
	var result models.RenderingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse render result file %s: %w", hs.OutputFile, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("rendering failed: %s", result.Error)
	}

	slog.Info("Rendering complete.",
		"spreadsheet", spreadsheetPath,
		"images", result.TotalImages,
		"outputDir", result.OutputDir,
	)
	return &result, nil
}

// parseHandshake finds the JSON pointer line in the engine's stdout. The
// engine prints it last, so scan from the bottom.
func parseHandshake(stdout string) (*handshake, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var hs handshake
		if err := json.Unmarshal([]byte(line), &hs); err != nil {
			continue
		}
		if hs.OutputFile != "" || hs.Error != "" || !hs.Success {
			return &hs, nil
		}
	}
	return nil, fmt.Errorf("render engine produced no result pointer: %s", excerpt(stdout))
}

// forwardEngineLog relays the engine's stderr progress lines to the service
// log.
func forwardEngineLog(stderr string) {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			slog.Debug("render engine", "line", line)
		}
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	const max = 500
	if len(s) <= max {
		if s == "" {
			return "(no output)"
		}
		return s
	}
	return "..." + s[len(s)-max:]
}
