package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultMaxRowsPerPart is the data-row threshold above which an upload is
// split into multiple documents.
const DefaultMaxRowsPerPart = 1000

// RowCount summarizes a spreadsheet's size ahead of the split decision.
// PartCount is a ceiling-division estimate; greedy per-sheet packing can
// close a part early at a sheet boundary, so the actual number of part files
// is what the pipeline reports.
type RowCount struct {
	TotalRows  int
	NeedsSplit bool
	PartCount  int
}

// Splitter partitions oversized spreadsheets into bounded-size part files,
// preserving sheet order, sheet names and per-sheet header rows.
type Splitter struct {
	MaxRowsPerPart int
}

func NewSplitter(maxRowsPerPart int) *Splitter {
	if maxRowsPerPart <= 0 {
		maxRowsPerPart = DefaultMaxRowsPerPart
	}
	return &Splitter{MaxRowsPerPart: maxRowsPerPart}
}

// CountDataRows counts data rows across all sheets, excluding one header row
// per non-empty sheet.
func (s *Splitter) CountDataRows(path string) (*RowCount, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	total := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		total += len(rows) - 1
	}

	rc := &RowCount{TotalRows: total}
	if total > s.MaxRowsPerPart {
		rc.NeedsSplit = true
		rc.PartCount = (total + s.MaxRowsPerPart - 1) / s.MaxRowsPerPart
	} else {
		rc.PartCount = 1
	}
	return rc, nil
}

// sheetChunk is one sheet's contribution to a part file.
type sheetChunk struct {
	name   string
	header []string
	rows   [][]string
}

// Split writes part files under outputDir/split-files/ and returns their
// paths in order. Sheets are drained in original order; the current part is
// filled greedily up to the row limit, and a part may carry chunks of
// several sheets, each under its own name with the header repeated. No row
// is duplicated or dropped.
func (s *Splitter) Split(path, outputDir string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	splitDir := filepath.Join(outputDir, "split-files")
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create split dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var partPaths []string
	var current []sheetChunk
	currentRows := 0

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		partPath := filepath.Join(splitDir, fmt.Sprintf("%s_part%d.xlsx", base, len(partPaths)+1))
		if err := writePartFile(partPath, current); err != nil {
			return err
		}
		partPaths = append(partPaths, partPath)
		current = nil
		currentRows = 0
		return nil
	}

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		header := rows[0]
		data := rows[1:]

		for len(data) > 0 {
			if currentRows >= s.MaxRowsPerPart {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			take := s.MaxRowsPerPart - currentRows
			if take > len(data) {
				take = len(data)
			}
			current = append(current, sheetChunk{name: sheet, header: header, rows: data[:take]})
			currentRows += take
			data = data[take:]
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	slog.Info("Split spreadsheet into parts.", "source", filepath.Base(path), "parts", len(partPaths))
	return partPaths, nil
}

func writePartFile(path string, chunks []sheetChunk) error {
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, chunk := range chunks {
		if i == 0 {
			if chunk.name != defaultSheet {
				if err := f.SetSheetName(defaultSheet, chunk.name); err != nil {
					return fmt.Errorf("failed to rename sheet: %w", err)
				}
			}
		} else {
			if _, err := f.NewSheet(chunk.name); err != nil {
				return fmt.Errorf("failed to add sheet %q: %w", chunk.name, err)
			}
		}
		if err := writeSheetRows(f, chunk.name, chunk.header, chunk.rows); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save part file %s: %w", path, err)
	}
	return nil
}

func writeSheetRows(f *excelize.File, sheet string, header []string, rows [][]string) error {
	write := func(rowIdx int, values []string) error {
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write row %d on sheet %q: %w", rowIdx, sheet, err)
		}
		return nil
	}

	if err := write(1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}
	return nil
}
