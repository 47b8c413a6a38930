package clients

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// localToken stands in for the API key of self-hosted servers that ignore it.
const localToken = "local"

// OpenAI returns a client for the OpenAI API or any server speaking its
// protocol (vLLM, Ollama, LM Studio) when baseURL is set.
func OpenAI(apiKey, baseURL, model string) (*openai.LLM, error) {
	if model == "" {
		return nil, errors.New("a model name is required for the openai provider")
	}
	if apiKey == "" {
		if baseURL == "" {
			return nil, errors.New("LLM_API_KEY is required unless LLM_BASE_URL points at a local server")
		}
		apiKey = localToken
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client for %s: %w", model, err)
	}
	return llm, nil
}
