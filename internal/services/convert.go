package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var multiSpaceSplit = regexp.MustCompile(`\s{2,}`)

// PDFConverter reconstructs a spreadsheet from a PDF's text. This is a
// heuristic, lossy best-effort conversion, not a general PDF-table parser:
// lines become rows, cells split on tabs when present, otherwise on runs of
// two or more spaces so natural single-space phrases survive.
type PDFConverter struct {
	extractor TextExtractor
}

func NewPDFConverter(extractor TextExtractor) *PDFConverter {
	return &PDFConverter{extractor: extractor}
}

// Convert materializes an xlsx equivalent of the PDF under
// outputDir/pdf-converted/. Zero reconstructed rows is a hard failure.
func (c *PDFConverter) Convert(ctx context.Context, pdfPath, outputDir string) (string, error) {
	extraction, err := c.extractor.Extract(ctx, pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from PDF: %w", err)
	}

	rows := rowsFromText(extraction.Text)
	if len(rows) == 0 {
		return "", fmt.Errorf("no extractable rows found in PDF %s", filepath.Base(pdfPath))
	}

	convertedDir := filepath.Join(outputDir, "pdf-converted")
	if err := os.MkdirAll(convertedDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create converted dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	outPath := filepath.Join(convertedDir, base+".xlsx")

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, c := range row {
			cells[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(outPath); err != nil {
		return "", fmt.Errorf("failed to save converted spreadsheet: %w", err)
	}

	slog.Info("Converted PDF to spreadsheet.",
		"pdf", filepath.Base(pdfPath),
		"rows", len(rows),
		"pages", extraction.PageCount,
	)
	return outPath, nil
}

// rowsFromText turns extracted text into tabular rows. No header row is
// assumed; every non-empty line is data.
func rowsFromText(text string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var fields []string
		if strings.Contains(line, "\t") {
			fields = strings.Split(line, "\t")
		} else {
			fields = multiSpaceSplit.Split(line, -1)
		}
		var cells []string
		for _, fld := range fields {
			fld = strings.TrimSpace(fld)
			if fld != "" {
				cells = append(cells, fld)
			}
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}
