// Package gemini holds the shared Gemini plumbing for the analysis phases:
// client construction, model selection, and Files API uploads.
package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// NewClient builds a Gemini API client from the GEMINI_API_KEY environment
// variable. In Lambda the key is populated from SSM during cold start.
func NewClient(ctx context.Context) (*genai.Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}
