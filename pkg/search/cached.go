package search

import (
	"context"
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mikeboe/research-loop/pkg/research"
)

// Cached memoizes successful results of another Searcher by normalized query
// text. Failures are never cached.
type Cached struct {
	next  research.Searcher
	cache *lru.Cache[string, []string]
}

func NewCached(next research.Searcher, size int) (*Cached, error) {
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Search(ctx context.Context, query research.Query) ([]string, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query.Text), " "))
	if hit, ok := c.cache.Get(key); ok {
		return slices.Clone(hit), nil
	}

	snippets, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(snippets))
	return snippets, nil
}

// Len reports the number of cached queries.
func (c *Cached) Len() int {
	return c.cache.Len()
}
