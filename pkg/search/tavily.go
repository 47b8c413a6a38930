package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/research-loop/pkg/research"
)

const (
	tavilyEndpoint   = "https://api.tavily.com/search"
	tavilyMaxRetries = 5
)

// Tavily calls the Tavily search API and returns the content of each hit.
type Tavily struct {
	APIKey     string
	MaxResults int
	// Depth is Tavily's search_depth parameter (basic or advanced).
	Depth    string
	Endpoint string
	// MaxRetries bounds the retries after HTTP 429; RetryDelay is the first
	// backoff step and doubles up to 30s.
	MaxRetries int
	RetryDelay time.Duration
	client     *http.Client
}

// NewTavily constructs a Tavily provider. maxResults defaults to 2.
func NewTavily(apiKey string, maxResults int) *Tavily {
	return NewTavilyWithClient(apiKey, maxResults, &http.Client{Timeout: 20 * time.Second})
}

func NewTavilyWithClient(apiKey string, maxResults int, client *http.Client) *Tavily {
	if maxResults <= 0 {
		maxResults = 2
	}
	return &Tavily{
		APIKey:     apiKey,
		MaxResults: maxResults,
		Depth:      "basic",
		Endpoint:   tavilyEndpoint,
		MaxRetries: tavilyMaxRetries,
		RetryDelay: time.Second,
		client:     client,
	}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query research.Query) ([]string, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:      t.APIKey,
		Query:       query.Text,
		SearchDepth: t.Depth,
		MaxResults:  t.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: failed to marshal request: %w", err)
	}

	var resp *http.Response
	delay := t.RetryDelay
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("tavily: failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= t.MaxRetries {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: failed to decode response: %w", err)
	}

	snippets := make([]string, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		snippets = append(snippets, r.Content)
		if len(snippets) >= t.MaxResults {
			break
		}
	}
	return snippets, nil
}
