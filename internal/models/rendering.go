package models

// RenderedImage describes one page image produced by the render engine.
// Paths are local until the publisher uploads them.
type RenderedImage struct {
	Sheet     string `json:"sheet"`
	Page      int    `json:"page"`
	Path      string `json:"path"`
	IsBlurred bool   `json:"isBlurred"`
}

// RenderingResult is the render engine's pipeline_result.json payload. It is
// consumed exactly once; OutputDir is deleted after archival.
type RenderingResult struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	FileName    string          `json:"fileName,omitempty"`
	TotalImages int             `json:"totalImages"`
	CoverPhoto  string          `json:"coverPhoto,omitempty"`
	Images      []RenderedImage `json:"images,omitempty"`
	OutputDir   string          `json:"outputDir,omitempty"`
}
