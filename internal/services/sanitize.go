package services

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// HeaderMarkerURL marks injected boilerplate rows. When a cell in the first
// 30 rows of a sheet contains it, that row and everything above it is
// discarded.
const HeaderMarkerURL = "https://www.facebook.com/datakhachhangtiemnang1"

// headerScanRows bounds the marker search window.
const headerScanRows = 30

// DefaultRedactionKeywords lists the substrings whose presence blanks a cell
// entirely (case-insensitive).
var DefaultRedactionKeywords = []string{
	"trang vang",
	"trangvang",
	"scribd",
	"hsct",
	"hosocongty",
	"mst",
	"masothue",
	"data5s",
	"google.com/map",
}

// Sanitizer produces cleaned copies of spreadsheets: boilerplate header rows
// preceding the marker URL are trimmed, and cells containing restricted
// keywords are blanked. The source file is never written. The archiver runs
// the same sanitizer on split parts so archived copies visually match what
// was rendered.
type Sanitizer struct {
	markerURL string
	keywords  []string
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		markerURL: strings.ToLower(HeaderMarkerURL),
		keywords:  DefaultRedactionKeywords,
	}
}

// NewSanitizerWith allows tests to narrow the marker and keyword set.
func NewSanitizerWith(markerURL string, keywords []string) *Sanitizer {
	return &Sanitizer{markerURL: strings.ToLower(markerURL), keywords: keywords}
}

// Sanitize writes a cleaned copy next to the source, suffixed `_cleaned`,
// and returns its path.
func (s *Sanitizer) Sanitize(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			// Sheet has no data range at all.
			continue
		}

		if trimmed, err := s.trimHeaderRows(f, sheet, rows); err != nil {
			return "", err
		} else if trimmed > 0 {
			slog.Info("Removed boilerplate header rows.", "sheet", sheet, "rows", trimmed)
			rows, err = f.GetRows(sheet)
			if err != nil {
				return "", fmt.Errorf("failed to re-read sheet %q: %w", sheet, err)
			}
		}

		if err := s.redactCells(f, sheet, rows); err != nil {
			return "", err
		}
	}

	cleanedPath := cleanedPathFor(path)
	if err := f.SaveAs(cleanedPath); err != nil {
		return "", fmt.Errorf("failed to save cleaned spreadsheet: %w", err)
	}
	return cleanedPath, nil
}

// trimHeaderRows scans the first 30 rows for the marker URL and removes rows
// 1..r inclusive when found at row r. Returns the number of rows removed.
func (s *Sanitizer) trimHeaderRows(f *excelize.File, sheet string, rows [][]string) (int, error) {
	limit := headerScanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for r := 0; r < limit; r++ {
		for _, cell := range rows[r] {
			if strings.Contains(strings.ToLower(strings.TrimSpace(cell)), s.markerURL) {
				// RemoveRow shifts everything up, so deleting row 1
				// repeatedly drops the whole prefix.
				for i := 0; i <= r; i++ {
					if err := f.RemoveRow(sheet, 1); err != nil {
						return 0, fmt.Errorf("failed to remove header row on sheet %q: %w", sheet, err)
					}
				}
				return r + 1, nil
			}
		}
	}
	return 0, nil
}

// redactCells blanks the value and formatted text of every cell containing a
// restricted keyword. Rows are kept; only the offending content goes.
func (s *Sanitizer) redactCells(f *excelize.File, sheet string, rows [][]string) error {
	for r, row := range rows {
		for c, value := range row {
			if !s.containsKeyword(value) {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("failed to compute cell name: %w", err)
			}
			if err := f.SetCellStr(sheet, cell, ""); err != nil {
				return fmt.Errorf("failed to clear cell %s on sheet %q: %w", cell, sheet, err)
			}
		}
	}
	return nil
}

func (s *Sanitizer) containsKeyword(value string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func cleanedPathFor(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_cleaned" + ext
}
