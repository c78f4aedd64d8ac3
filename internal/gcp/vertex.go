package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

const MetadataSystemPrompt = "You are a data catalog assistant. Given sample rows from a tabular dataset, you write a short, factual listing title and a one-paragraph description in Vietnamese. You must output your response as a valid JSON object."

const MetadataUserPrompt = `You will be provided with the first rows of a spreadsheet, one row per line, cells separated by " | ".

Write a JSON object with exactly two keys:
  - "title": a listing title of at most 80 characters describing what the dataset contains.
  - "description": 2-3 sentences describing the data's columns and apparent scope.

Do not invent row counts, regions, or dates that are not visible in the sample. Output ONLY the JSON object.`

// VertexClient holds the pre-configured generative model used for metadata
// suggestions.
type VertexClient struct {
	MetadataModel *genai.GenerativeModel
	baseClient    *genai.Client
}

// NewVertexClient creates a client with the metadata-suggestion model
// configured for deterministic JSON output.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	metadataModel := baseClient.GenerativeModel("gemini-1.5-flash")
	metadataModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(MetadataSystemPrompt)},
	}
	metadataModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		MetadataModel: metadataModel,
		baseClient:    baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
