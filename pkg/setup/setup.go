// Package setup assembles the research engine and its collaborators from
// configuration. Both binaries build through it.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/research-loop/pkg/agents"
	"github.com/mikeboe/research-loop/pkg/clients"
	"github.com/mikeboe/research-loop/pkg/config"
	"github.com/mikeboe/research-loop/pkg/database"
	"github.com/mikeboe/research-loop/pkg/embeddings"
	"github.com/mikeboe/research-loop/pkg/research"
	"github.com/mikeboe/research-loop/pkg/search"
	"github.com/mikeboe/research-loop/pkg/splitter"
	"github.com/mikeboe/research-loop/pkg/vectorstore"
)

// Components holds everything a research run needs.
type Components struct {
	Config    *config.Config
	Generator research.QueryGenerator
	Searcher  research.Searcher
	Reflector research.Reflector
	Answerer  research.Answerer

	// Store is nil unless indexing or knowledge search is enabled.
	Store *vectorstore.PGVectorStore
}

// Storage is what the indexing and knowledge searchers need.
type Storage struct {
	Embedder search.Embedder
	Store    search.VectorStore
	Splitter search.Splitter
}

// OpenDatabase connects to DATABASE_URL and creates the run tables.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.PostgresDB, error) {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return db, nil
}

// Build creates the collaborators. db may be nil when neither indexing nor
// knowledge search is enabled.
func Build(ctx context.Context, cfg *config.Config, db *database.PostgresDB) (*Components, error) {
	c := &Components{Config: cfg}

	var err error
	c.Generator, c.Reflector, c.Answerer, err = BuildAgents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var storage *Storage
	if cfg.IndexSnippets || cfg.UseKnowledge {
		if db == nil {
			return nil, errors.New("a database is required for snippet indexing and knowledge search")
		}
		embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey, cfg.EmbeddingDimension)
		if err != nil {
			return nil, err
		}
		store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx, embedder.Dimension()); err != nil {
			return nil, err
		}
		slog.Debug("Vector collection ready", "collection", store.Collection(), "dimension", embedder.Dimension())
		c.Store = store
		storage = &Storage{
			Embedder: embedder,
			Store:    store,
			Splitter: splitter.NewRecursiveCharacterTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		}
	}

	c.Searcher, err = BuildSearcher(cfg, storage)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// BuildAgents creates the language-model collaborators. Query writing and
// reflection use the fast model, the final answer the reasoning model.
func BuildAgents(ctx context.Context, cfg *config.Config) (research.QueryGenerator, research.Reflector, research.Answerer, error) {
	fast, err := clients.New(ctx, cfg, cfg.FastModel)
	if err != nil {
		return nil, nil, nil, err
	}
	reasoning, err := clients.New(ctx, cfg, cfg.ReasoningModel)
	if err != nil {
		return nil, nil, nil, err
	}
	return agents.NewQueryWriter(fast), agents.NewReflector(fast), agents.NewAnswerer(reasoning), nil
}

// BuildSearcher composes the configured web provider with the optional
// cache, indexing and knowledge layers. storage must be non-nil when
// indexing or knowledge search is enabled.
func BuildSearcher(cfg *config.Config, storage *Storage) (research.Searcher, error) {
	var web research.Searcher
	switch cfg.SearchProvider {
	case config.SearchTavily:
		if cfg.TavilyApiKey == "" {
			return nil, errors.New("TAVILY_API_KEY is required for the tavily search provider")
		}
		web = search.NewTavily(cfg.TavilyApiKey, cfg.SearchMaxResults)
	case config.SearchArxiv:
		web = search.NewArxiv(cfg.SearchMaxResults)
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}

	if (cfg.IndexSnippets || cfg.UseKnowledge) && storage == nil {
		return nil, errors.New("storage is required for snippet indexing and knowledge search")
	}

	if cfg.IndexSnippets {
		web = search.NewIndexed(web, cfg.SearchProvider, storage.Splitter, storage.Embedder, storage.Store)
	}
	if cfg.SearchCacheSize > 0 {
		cached, err := search.NewCached(web, cfg.SearchCacheSize)
		if err != nil {
			return nil, err
		}
		web = cached
	}

	if !cfg.UseKnowledge {
		return web, nil
	}
	slog.Info("Knowledge search enabled", "collection", cfg.CollectionName)
	return search.NewMulti(
		search.Named{Name: cfg.SearchProvider, Searcher: web},
		search.Named{Name: "knowledge", Searcher: search.NewKnowledge(storage.Embedder, storage.Store, 0)},
	), nil
}

// NewEngine returns an engine over the components with the configured search
// bounds. opts are applied after the configured ones.
func (c *Components) NewEngine(opts ...research.Option) *research.Engine {
	base := []research.Option{
		research.WithSearchTimeout(c.Config.SearchTimeout),
		research.WithMaxParallelSearches(c.Config.MaxParallelSearches),
	}
	return research.NewEngine(c.Generator, c.Searcher, c.Reflector, c.Answerer, append(base, opts...)...)
}
