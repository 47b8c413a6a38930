package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
)

// Default Gemini models; see https://ai.google.dev/gemini-api/docs/models/gemini
const (
	DefaultModel = "gemini-3-flash-preview"
	ProModel     = "gemini-3-pro-preview"
)

// GoogleAi returns a Gemini client bound to model.
func GoogleAi(ctx context.Context, apiKey, model string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is required for the google provider")
	}
	if model == "" {
		model = DefaultModel
	}

	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client for %s: %w", model, err)
	}
	return llm, nil
}
