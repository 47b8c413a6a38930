package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Answerer writes the final Markdown answer.
type Answerer struct {
	base
}

func NewAnswerer(llm llms.Model, opts ...Option) *Answerer {
	return &Answerer{base: newBase(llm, opts)}
}

func (a *Answerer) Answer(ctx context.Context, topic string, snippets []string) (string, error) {
	content, err := a.generate(ctx, answerPrompt(topic, snippets, a.now()))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("llm returned an empty answer")
	}

	a.logger.Info("Final answer generated", "length", len(content))
	return content, nil
}
