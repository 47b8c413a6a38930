package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/research-loop/pkg/research"
	"github.com/mikeboe/research-loop/pkg/vectorstore"
)

// Indexed stores every successful result of another Searcher into the vector
// collection so later runs can find it through Knowledge. Indexing problems
// are logged and never turn a successful search into a failure.
type Indexed struct {
	next     research.Searcher
	source   string
	splitter Splitter
	embedder Embedder
	store    VectorStore
	logger   *slog.Logger
}

func NewIndexed(next research.Searcher, source string, splitter Splitter, embedder Embedder, store VectorStore) *Indexed {
	return &Indexed{
		next:     next,
		source:   source,
		splitter: splitter,
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
	}
}

func (ix *Indexed) Search(ctx context.Context, query research.Query) ([]string, error) {
	snippets, err := ix.next.Search(ctx, query)
	if err != nil || len(snippets) == 0 {
		return snippets, err
	}

	if err := ix.index(ctx, query, snippets); err != nil {
		ix.logger.Warn("Failed to index search results", "query", query.Text, "error", err)
	}
	return snippets, nil
}

func (ix *Indexed) index(ctx context.Context, query research.Query, snippets []string) error {
	var chunks []string
	for _, snippet := range snippets {
		parts, err := ix.splitter.SplitText(snippet)
		if err != nil {
			return err
		}
		chunks = append(chunks, parts...)
	}
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := ix.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vectorstore.Document{
			Content: chunk,
			Metadata: map[string]interface{}{
				"source": ix.source,
				"query":  query.Text,
			},
			Embedding: embeddings[i],
		}
	}

	if err := ix.store.AddDocuments(ctx, docs); err != nil {
		return err
	}
	ix.logger.Debug("Indexed search results", "query", query.Text, "chunks", len(docs))
	return nil
}
