package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one indexed chunk of a search result. Metadata carries at least
// "source" and "query" for chunks written by the indexing searcher.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// SimilaritySearchResult pairs a chunk with its cosine similarity to the query.
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// PGVectorStore keeps one collection of snippet chunks in its own table.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	collection string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName guards collection names, which are interpolated into SQL.
// Names must start with a lowercase letter or underscore and fit PostgreSQL's
// 63 character identifier limit.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func NewPGVectorStore(pool *pgxpool.Pool, collection string) (*PGVectorStore, error) {
	if !isValidTableName(collection) {
		return nil, fmt.Errorf("invalid collection name %q: use 1-63 letters, digits or underscores, starting with a lowercase letter or underscore", collection)
	}
	return &PGVectorStore{pool: pool, collection: collection}, nil
}

// Collection returns the table name backing the store.
func (vs *PGVectorStore) Collection() string {
	return vs.collection
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.collection}.Sanitize()
}

// EnsureCollection creates the pgvector extension, the collection table and,
// when the dimension allows it, an HNSW index.
func (vs *PGVectorStore) EnsureCollection(ctx context.Context, dimension int) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, vs.table(), dimension)
	if _, err := vs.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", vs.collection, err)
	}

	// HNSW supports at most 2000 dimensions; above that we fall back to exact search.
	if dimension <= 2000 {
		indexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, pgx.Identifier{vs.collection + "_embedding_idx"}.Sanitize(), vs.table())
		if _, err := vs.pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", vs.collection, err)
		}
	}
	return nil
}

// AddDocuments writes all chunks in one round trip.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	insert := fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)`, vs.table())

	batch := &pgx.Batch{}
	for i := range docs {
		meta, err := json.Marshal(docs[i].Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of chunk %d: %w", i, err)
		}
		batch.Queue(insert, docs[i].Content, meta, pgvector.NewVector(docs[i].Embedding))
	}

	results := vs.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk %d into %s: %w", i, vs.collection, err)
		}
	}
	return nil
}

// SimilaritySearch returns the topK chunks closest to the embedding. A
// non-empty source keeps only chunks indexed from that provider.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, embedding []float32, topK int, source string) ([]SimilaritySearchResult, error) {
	args := []any{pgvector.NewVector(embedding), topK}
	where := ""
	if source != "" {
		args = append(args, source)
		where = "WHERE metadata->>'source' = $3"
	}

	query := fmt.Sprintf(`
		SELECT id::text, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vs.table(), where)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search on %s failed: %w", vs.collection, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SimilaritySearchResult, error) {
		var r SimilaritySearchResult
		err := row.Scan(&r.Document.ID, &r.Document.Content, &r.Document.Metadata, &r.Score)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read similarity results: %w", err)
	}
	for i := range results {
		ensureMetadata(&results[i].Document)
	}
	return results, nil
}

// GetContentByMetadata lists chunks matching a metadata filter in insertion
// order. See compileFilter for the filter language.
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, filter map[string]any) ([]Document, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id::text, content, metadata FROM %s WHERE %s ORDER BY created_at ASC`, vs.table(), where)
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata query on %s failed: %w", vs.collection, err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var d Document
		err := row.Scan(&d.ID, &d.Content, &d.Metadata)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	for i := range docs {
		ensureMetadata(&docs[i])
	}
	return docs, nil
}

// ensureMetadata replaces a NULL metadata column with an empty map.
func ensureMetadata(d *Document) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
}
