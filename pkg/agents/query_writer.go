package agents

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-loop/pkg/research"
)

// QueryWriter generates the initial search queries for a topic.
type QueryWriter struct {
	base
}

func NewQueryWriter(llm llms.Model, opts ...Option) *QueryWriter {
	return &QueryWriter{base: newBase(llm, opts)}
}

type searchQueryList struct {
	Query     []string `json:"query"`
	Rationale string   `json:"rationale"`
}

func (w *QueryWriter) GenerateQueries(ctx context.Context, topic string, count int) ([]research.Query, error) {
	var resp searchQueryList

	err := w.generateJSON(ctx, queryWriterPrompt(topic, count, w.now()), &resp, func() error {
		resp.Query = cleanQueries(resp.Query)
		if len(resp.Query) == 0 {
			return errors.New("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	queries := make([]research.Query, len(resp.Query))
	for i, q := range resp.Query {
		queries[i] = research.Query{Text: q, Explanation: resp.Rationale}
	}

	w.logger.Info("Generated queries", "topic", topic, "queries", resp.Query)
	return queries, nil
}
