// Package agents implements the language-model collaborators of the research
// loop (query writing, reflection and answering) on top of langchaingo.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"
)

const defaultMaxRetries = 3

// ErrNoChoices is returned when the model answers without any choice.
var ErrNoChoices = errors.New("llm returned no choices")

// base carries what every collaborator needs: the model, a clock for the
// prompts and the retry budget for structured output.
type base struct {
	llm        llms.Model
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
}

// Option configures a collaborator.
type Option func(*base)

func WithLogger(l *slog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the date injected into prompts.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithRetries sets how many times structured generation is attempted and the
// linear backoff step between attempts.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(b *base) {
		if attempts > 0 {
			b.maxRetries = attempts
		}
		b.backoff = backoff
	}
}

func newBase(llm llms.Model, opts []Option) base {
	b := base{
		llm:        llm,
		logger:     slog.Default(),
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// generate sends a single human prompt and returns the first choice.
func (b *base) generate(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := b.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, options...)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

// generateJSON asks for JSON output and decodes it into out, repairing
// malformed JSON before giving up on an attempt. out must be a pointer and is
// zeroed before every attempt. validate runs on the decoded value; a
// validation error counts as a failed attempt.
func (b *base) generateJSON(ctx context.Context, prompt string, out any, validate func() error) error {
	var lastErr error

	for i := 0; i < b.maxRetries; i++ {
		if i > 0 {
			b.logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.backoff * time.Duration(i)):
			}
		}

		content, err := b.generate(ctx, prompt, llms.WithJSONMode())
		if err != nil {
			lastErr = err
			continue
		}

		reflect.ValueOf(out).Elem().SetZero()
		if err := decodeJSON(content, out); err != nil {
			lastErr = err
			continue
		}

		if validate != nil {
			if err := validate(); err != nil {
				lastErr = fmt.Errorf("validation failed: %w", err)
				continue
			}
		}
		return nil
	}

	return fmt.Errorf("operation failed after %d retries: %w", b.maxRetries, lastErr)
}

// decodeJSON tolerates markdown fences and repairable syntax errors, both of
// which models produce even in JSON mode.
func decodeJSON(content string, out any) error {
	cleaned := stripFences(content)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (content: %s)", err, truncate(content, 200))
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("json parse error: %w (content: %s)", err, truncate(content, 200))
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// cleanQueries trims and drops blank entries.
func cleanQueries(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
