package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeboe/research-loop/pkg/research"
)

// Knowledge answers queries from snippets that earlier runs indexed into the
// vector collection.
type Knowledge struct {
	embedder Embedder
	store    VectorStore
	TopK     int
	MinScore float64
}

func NewKnowledge(embedder Embedder, store VectorStore, topK int) *Knowledge {
	if topK <= 0 {
		topK = 5
	}
	return &Knowledge{embedder: embedder, store: store, TopK: topK, MinScore: 0.5}
}

func (k *Knowledge) Search(ctx context.Context, query research.Query) ([]string, error) {
	embedding, err := k.embedder.EmbedText(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("knowledge: failed to generate query embedding: %w", err)
	}

	results, err := k.store.SimilaritySearch(ctx, embedding, k.TopK, "")
	if err != nil {
		return nil, fmt.Errorf("knowledge: failed to search: %w", err)
	}

	var snippets []string
	for _, result := range results {
		if result.Score < k.MinScore {
			continue
		}
		source := "unknown"
		if s, ok := result.Document.Metadata["source"].(string); ok {
			source = s
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("[Source]: %s\n[Content]: %s", source, result.Document.Content))
		if q, ok := result.Document.Metadata["query"].(string); ok && q != "" {
			sb.WriteString(fmt.Sprintf("\n[Query]: %s", q))
		}
		snippets = append(snippets, sb.String())
	}
	return snippets, nil
}
