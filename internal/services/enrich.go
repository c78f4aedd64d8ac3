package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/xuri/excelize/v2"

	"github.com/yifeng260688/datald-sub000/internal/gcp"
)

// metadataSampleRows bounds how much of the sheet is shown to the model.
const metadataSampleRows = 8

// MetadataEnricher asks the metadata model for a listing title and
// description based on a spreadsheet's first rows. It is strictly
// best-effort: the pipeline only consults it when the submitter left the
// fields blank, and any failure falls back to filename-derived metadata.
type MetadataEnricher struct {
	vertex *gcp.VertexClient
}

func NewMetadataEnricher(vertex *gcp.VertexClient) *MetadataEnricher {
	return &MetadataEnricher{vertex: vertex}
}

type metadataSuggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Suggest returns a title and description for the spreadsheet.
func (e *MetadataEnricher) Suggest(ctx context.Context, spreadsheetPath string) (string, string, error) {
	sample, err := sampleRows(spreadsheetPath, metadataSampleRows)
	if err != nil {
		return "", "", err
	}
	if sample == "" {
		return "", "", fmt.Errorf("no sample rows available in %s", spreadsheetPath)
	}

	prompt := genai.Text(gcp.MetadataUserPrompt + "\n\n" + sample)
	resp, err := e.vertex.MetadataModel.GenerateContent(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate metadata suggestion: %w", err)
	}

	raw := extractText(resp)
	var suggestion metadataSuggestion
	if err := json.Unmarshal([]byte(raw), &suggestion); err != nil {
		return "", "", fmt.Errorf("failed to parse metadata suggestion: %w", err)
	}
	if suggestion.Title == "" {
		return "", "", fmt.Errorf("metadata suggestion missing title")
	}
	return suggestion.Title, suggestion.Description, nil
}

func sampleRows(path string, limit int) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if len(lines) >= limit {
				return strings.Join(lines, "\n"), nil
			}
			lines = append(lines, strings.Join(row, " | "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	s := strings.TrimSpace(sb.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
