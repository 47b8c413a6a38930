// Package clients builds langchaingo models for the configured provider.
package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-loop/pkg/config"
)

// New returns a model for the configured provider, bound to model.
func New(ctx context.Context, cfg *config.Config, model string) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderGoogle:
		llm, err := GoogleAi(ctx, cfg.GoogleApiKey, model)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case config.ProviderOpenAI:
		llm, err := OpenAI(cfg.LLMApiKey, cfg.LLMBaseURL, model)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
