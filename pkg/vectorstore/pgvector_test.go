package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionNames(t *testing.T) {
	valid := []string{"research_snippets", "_scratch", "snippets2026", "a", "snippets_by_Topic"}
	for _, name := range valid {
		_, err := NewPGVectorStore(nil, name)
		assert.NoError(t, err, name)
	}

	invalid := []string{
		"",
		"2026_snippets",
		"Snippets",
		"research-snippets",
		"research snippets",
		"snippets; DROP TABLE research_runs",
	}
	for _, name := range invalid {
		_, err := NewPGVectorStore(nil, name)
		assert.Error(t, err, "%q", name)
	}
}

func TestCollectionNameLengthLimit(t *testing.T) {
	name := make([]byte, 63)
	for i := range name {
		name[i] = 'x'
	}
	assert.True(t, isValidTableName(string(name)))
	assert.False(t, isValidTableName(string(name)+"x"))
}

func TestCompileFilter(t *testing.T) {
	type m = map[string]any
	type l = []any

	tests := []struct {
		name   string
		filter m
		want   string
		args   int
	}{
		{"empty", m{}, "TRUE", 0},
		{"source only", m{"source": "tavily"}, "metadata @> $1", 1},
		{"and", m{"$and": l{m{"source": "tavily"}, m{"query": "langgraph"}}}, "((metadata @> $1) AND (metadata @> $2))", 2},
		{"or", m{"$or": l{m{"source": "tavily"}, m{"source": "arxiv"}}}, "((metadata @> $1) OR (metadata @> $2))", 2},
		{"not", m{"$not": m{"source": "arxiv"}}, "NOT (metadata @> $1)", 1},
		{
			"nested",
			m{"$or": l{m{"source": "arxiv"}, m{"$and": l{m{"source": "tavily"}, m{"query": "benchmarks"}}}}},
			"((metadata @> $1) OR (((metadata @> $2) AND (metadata @> $3))))",
			3,
		},
		{"plain keys joined", m{"source": "tavily", "query": "langgraph"}, "metadata @> $1 AND metadata @> $2", 2},
		{"operator sorts before plain key", m{"source": "arxiv", "$not": m{"query": "old"}}, "NOT (metadata @> $1) AND metadata @> $2", 2},
		{"empty list is skipped", m{"$or": l{}}, "TRUE", 0},
		{"empty sub filter", m{"$and": l{m{}}}, "((TRUE))", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, err := compileFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, args, tt.args)
		})
	}
}

func TestCompileFilterRejectsMalformedFilters(t *testing.T) {
	filters := map[string]map[string]any{
		"or without list":      {"$or": "tavily"},
		"and with scalar item": {"$and": []any{"tavily"}},
		"not with list":        {"$not": []any{map[string]any{"source": "arxiv"}}},
		"nested bad operator":  {"$or": []any{map[string]any{"$not": 1}}},
	}
	for name, filter := range filters {
		t.Run(name, func(t *testing.T) {
			_, _, err := compileFilter(filter)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestCompileFilterArgsFollowSortedKeys(t *testing.T) {
	_, args, err := compileFilter(map[string]any{
		"source": "tavily",
		"query":  "langgraph",
	})
	require.NoError(t, err)

	require.Len(t, args, 2)
	assert.JSONEq(t, `{"query":"langgraph"}`, string(args[0].([]byte)))
	assert.JSONEq(t, `{"source":"tavily"}`, string(args[1].([]byte)))
}
