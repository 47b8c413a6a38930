package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikeboe/research-loop/pkg/research"
)

// Named pairs a provider with the name used in errors and logs.
type Named struct {
	Name     string
	Searcher research.Searcher
}

// Multi queries several providers concurrently and concatenates their
// results in provider order. It fails only when every provider fails.
type Multi struct {
	providers []Named
}

func NewMulti(providers ...Named) *Multi {
	return &Multi{providers: providers}
}

func (m *Multi) Search(ctx context.Context, query research.Query) ([]string, error) {
	outcomes := research.Dispatch(ctx, m.providers, 0, 0, func(ctx context.Context, p Named) ([]string, error) {
		return p.Searcher.Search(ctx, query)
	})

	var snippets []string
	var errs []error
	for i, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.providers[i].Name, out.Err))
			continue
		}
		snippets = append(snippets, out.Value...)
	}

	if len(m.providers) > 0 && len(errs) == len(m.providers) {
		return nil, errors.Join(errs...)
	}
	return snippets, nil
}
