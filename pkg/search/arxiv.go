package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/research-loop/pkg/research"
)

const arxivEndpoint = "https://export.arxiv.org/api/query"

// arxivFeed is the Atom feed returned by the arXiv export API.
type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// Arxiv searches arXiv and returns one snippet per paper.
type Arxiv struct {
	MaxResults int
	Endpoint   string
	client     *http.Client
	logger     *slog.Logger
}

func NewArxiv(maxResults int) *Arxiv {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Arxiv{
		MaxResults: maxResults,
		Endpoint:   arxivEndpoint,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

func (a *Arxiv) Search(ctx context.Context, query research.Query) ([]string, error) {
	params := url.Values{}
	params.Add("search_query", "all:"+query.Text)
	params.Add("max_results", strconv.Itoa(a.MaxResults))
	params.Add("start", "0")
	apiURL := a.Endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		a.logger.Error("arXiv returned non-200 status code", "status", resp.StatusCode, "query", query.Text)
		return nil, fmt.Errorf("arxiv: API returned status %d: %s", resp.StatusCode, string(body))
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to unmarshal XML: %w", err)
	}

	a.logger.Info("arXiv search successful", "query", query.Text, "count", len(feed.Entry))

	snippets := make([]string, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		snippets = append(snippets, formatArxivEntry(entry))
	}
	return snippets, nil
}

func formatArxivEntry(entry arxivEntry) string {
	var sb strings.Builder
	sb.WriteString("Title: " + collapseSpace(entry.Title) + "\n")
	if entry.Published != "" {
		sb.WriteString("Published: " + entry.Published + "\n")
	}
	for _, link := range entry.Link {
		if link.Type == "application/pdf" {
			sb.WriteString("PDF: " + link.Href + "\n")
			break
		}
	}
	sb.WriteString("Summary: " + collapseSpace(entry.Summary))
	return sb.String()
}

// collapseSpace folds the hard-wrapped lines arXiv uses in titles and abstracts.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
