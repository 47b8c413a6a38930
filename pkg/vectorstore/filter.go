package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrInvalidFilter is returned for metadata filters that cannot be compiled.
var ErrInvalidFilter = errors.New("invalid metadata filter")

// compileFilter turns a JSON metadata filter into a WHERE clause and its
// bind arguments. Plain keys become JSONB containment checks; "$and" and
// "$or" take a list of sub-filters and "$not" takes one. Keys are visited in
// sorted order so the same filter always yields the same SQL.
func compileFilter(filter map[string]any) (string, []any, error) {
	var c filterCompiler
	where, err := c.compile(filter)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return where, c.args, nil
}

type filterCompiler struct {
	args []any
}

func (c *filterCompiler) compile(filter map[string]any) (string, error) {
	var conds []string
	for _, key := range slices.Sorted(maps.Keys(filter)) {
		cond, err := c.condition(key, filter[key])
		if err != nil {
			return "", err
		}
		if cond != "" {
			conds = append(conds, cond)
		}
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), nil
}

func (c *filterCompiler) condition(key string, value any) (string, error) {
	switch key {
	case "$and", "$or":
		list, ok := value.([]any)
		if !ok {
			return "", fmt.Errorf("value for %s must be a list of conditions", key)
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return "", fmt.Errorf("item in %s list must be a JSON object", key)
			}
			clause, err := c.compile(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+clause+")")
		}
		if len(parts) == 0 {
			return "", nil
		}
		sep := " AND "
		if key == "$or" {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil

	case "$not":
		sub, ok := value.(map[string]any)
		if !ok {
			return "", errors.New("value for $not must be a JSON object")
		}
		clause, err := c.compile(sub)
		if err != nil {
			return "", err
		}
		return "NOT (" + clause + ")", nil

	default:
		pair, err := json.Marshal(map[string]any{key: value})
		if err != nil {
			return "", fmt.Errorf("cannot encode %q: %w", key, err)
		}
		return c.bind(pair), nil
	}
}

// bind appends a containment operand and returns its placeholder check.
func (c *filterCompiler) bind(pair []byte) string {
	c.args = append(c.args, pair)
	return fmt.Sprintf("metadata @> $%d", len(c.args))
}
