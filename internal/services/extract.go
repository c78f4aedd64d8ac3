package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extraction is the text content of a PDF plus its page count.
type Extraction struct {
	Text      string
	PageCount int
}

// TextExtractor is the capability the PDF converter depends on. It is
// resolved once at startup and injected; pipeline code never probes for an
// implementation per call.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// PDFTextExtractor extracts per-page plain text from a PDF. The file is
// first rewritten through pdfcpu in relaxed validation mode, which repairs
// the mildly broken PDFs uploaders tend to submit.
type PDFTextExtractor struct{}

func NewPDFTextExtractor() *PDFTextExtractor {
	return &PDFTextExtractor{}
}

func (e *PDFTextExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	tempDir, err := os.MkdirTemp("", "pdf-extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	optimized := filepath.Join(tempDir, "optimized.pdf")
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(path, optimized, cfg); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}

	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	f, reader, err := pdf.Open(optimized)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for text extraction: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is not fatal; the row heuristic
			// works on whatever text the rest of the document yields.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return &Extraction{Text: sb.String(), PageCount: pageCount}, nil
}
