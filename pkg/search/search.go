// Package search provides research.Searcher implementations.
//
// Available providers:
//
//   - Tavily: web search, requires an API key
//   - Arxiv: academic papers from the arXiv export API, no key required
//   - Knowledge: semantic search over snippets indexed by earlier runs (pgvector)
//
// Decorators compose on top of any provider: Cached keeps an in-process LRU
// of results, Indexed stores results into the vector collection, and Multi
// fans a query out to several providers.
package search

import (
	"context"

	"github.com/mikeboe/research-loop/pkg/vectorstore"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of the pgvector store used by the search layer.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, sourceFilter string) ([]vectorstore.SimilaritySearchResult, error)
}

// Splitter breaks long text into chunks before embedding.
type Splitter interface {
	SplitText(text string) ([]string, error)
}
