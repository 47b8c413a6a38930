package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"

	SearchTavily = "tavily"
	SearchArxiv  = "arxiv"
)

// Config is read from the environment. Keys are the upper-cased mapstructure
// names, e.g. MAX_LOOPS.
type Config struct {
	GoogleApiKey   string `mapstructure:"google_api_key"`
	LLMProvider    string `mapstructure:"llm_provider"`
	LLMBaseURL     string `mapstructure:"llm_base_url"`
	LLMApiKey      string `mapstructure:"llm_api_key"`
	ReasoningModel string `mapstructure:"reasoning_model"`
	FastModel      string `mapstructure:"fast_model"`

	DatabaseURL string `mapstructure:"database_url"`
	Port        string `mapstructure:"port"`

	TavilyApiKey        string        `mapstructure:"tavily_api_key"`
	SearchProvider      string        `mapstructure:"search_provider"`
	SearchMaxResults    int           `mapstructure:"search_max_results"`
	SearchTimeout       time.Duration `mapstructure:"search_timeout"`
	MaxParallelSearches int           `mapstructure:"max_parallel_searches"`
	SearchCacheSize     int           `mapstructure:"search_cache_size"`

	QueriesPerRound int `mapstructure:"queries_per_round"`
	MaxLoops        int `mapstructure:"max_loops"`

	IndexSnippets      bool   `mapstructure:"index_snippets"`
	UseKnowledge       bool   `mapstructure:"use_knowledge"`
	EmbeddingModel     string `mapstructure:"embedding_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension"`
	CollectionName     string `mapstructure:"collection_name"`
	ChunkSize          int    `mapstructure:"chunk_size"`
	ChunkOverlap       int    `mapstructure:"chunk_overlap"`
}

var defaults = map[string]any{
	"google_api_key":        "",
	"llm_provider":          ProviderGoogle,
	"llm_base_url":          "",
	"llm_api_key":           "",
	"reasoning_model":       "gemini-3-pro-preview",
	"fast_model":            "gemini-3-flash-preview",
	"database_url":          "",
	"port":                  "8081",
	"tavily_api_key":        "",
	"search_provider":       SearchTavily,
	"search_max_results":    2,
	"search_timeout":        "30s",
	"max_parallel_searches": 0,
	"search_cache_size":     256,
	"queries_per_round":     3,
	"max_loops":             2,
	"index_snippets":        false,
	"use_knowledge":         false,
	"embedding_model":       "gemini-embedding-001",
	"embedding_dimension":   1536,
	"collection_name":       "research_snippets",
	"chunk_size":            1000,
	"chunk_overlap":         200,
}

// Load reads .env when present, then the environment, over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges. Credentials are checked where the
// component needing them is built.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGoogle, ProviderOpenAI:
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGoogle, ProviderOpenAI, c.LLMProvider)
	}
	switch c.SearchProvider {
	case SearchTavily, SearchArxiv:
	default:
		return fmt.Errorf("SEARCH_PROVIDER must be %q or %q, got %q", SearchTavily, SearchArxiv, c.SearchProvider)
	}
	if c.QueriesPerRound < 1 {
		return fmt.Errorf("QUERIES_PER_ROUND must be at least 1, got %d", c.QueriesPerRound)
	}
	if c.MaxLoops < 1 {
		return fmt.Errorf("MAX_LOOPS must be at least 1, got %d", c.MaxLoops)
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("SEARCH_TIMEOUT must not be negative, got %s", c.SearchTimeout)
	}
	if c.MaxParallelSearches < 0 {
		return fmt.Errorf("MAX_PARALLEL_SEARCHES must not be negative, got %d", c.MaxParallelSearches)
	}
	if (c.IndexSnippets || c.UseKnowledge) && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required when INDEX_SNIPPETS or USE_KNOWLEDGE is enabled")
	}
	return nil
}
