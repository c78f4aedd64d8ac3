package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yifeng260688/datald-sub000/internal/models"
)

type testSheet struct {
	name string
	rows [][]string
}

// writeWorkbook builds an xlsx fixture with the given sheets in order.
func writeWorkbook(t *testing.T, path string, sheets ...testSheet) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, sheet := range sheets {
		if i == 0 {
			if sheet.name != defaultSheet {
				require.NoError(t, f.SetSheetName(defaultSheet, sheet.name))
			}
		} else {
			_, err := f.NewSheet(sheet.name)
			require.NoError(t, err)
		}
		for r, row := range sheet.rows {
			cells := make([]interface{}, len(row))
			for c, v := range row {
				cells[c] = v
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet.name, cell, &cells))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

// readWorkbook returns all sheets' rows from an xlsx file.
func readWorkbook(t *testing.T, path string) map[string][][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	out := make(map[string][][]string)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		require.NoError(t, err)
		out[sheet] = rows
	}
	return out
}

// dataRows generates n numbered rows with the given prefix.
func dataRows(prefix string, n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("%s-%d", prefix, i+1), "some value"}
	}
	return rows
}

// fakeRenderer produces real image files on disk without a subprocess.
type fakeRenderer struct {
	mu            sync.Mutex
	calls         int
	failOnCall    int // fail the nth call; 0 means never
	imagesPerCall int
}

func (f *fakeRenderer) Render(_ context.Context, spreadsheetPath, outputDir string) (*models.RenderingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOnCall != 0 && f.calls == f.failOnCall {
		return nil, errors.New("headless browser crashed")
	}

	imageDir := filepath.Join(outputDir, "images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, err
	}
	n := f.imagesPerCall
	if n == 0 {
		n = 2
	}
	images := make([]models.RenderedImage, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(imageDir, fmt.Sprintf("Sheet1_page_%d.png", i+1))
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		images[i] = models.RenderedImage{Sheet: "Sheet1", Page: i + 1, Path: p}
	}
	return &models.RenderingResult{
		Success:     true,
		FileName:    filepath.Base(spreadsheetPath),
		TotalImages: n,
		CoverPhoto:  images[0].Path,
		Images:      images,
		OutputDir:   imageDir,
	}, nil
}

// stubExtractor returns canned text for PDF conversion tests.
type stubExtractor struct {
	text      string
	pageCount int
	err       error
}

func (s *stubExtractor) Extract(context.Context, string) (*Extraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Extraction{Text: s.text, PageCount: s.pageCount}, nil
}
