// ABOUTME: Web search client for a Tavily-style JSON search API
// ABOUTME: Retries transient failures and formats results as a prompt context blob

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/2389/querynox/internal/config"
)

// ResultsHeader prefixes every formatted search blob.
const ResultsHeader = "\n\nWeb search results:\n"

const maxErrorBody = 512

// ErrNoResults is returned when the search succeeds but finds nothing.
var ErrNoResults = errors.New("web search returned no results")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Client queries the search endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	maxResults int
	http       *retryablehttp.Client
}

// New creates a Client from search configuration.
func New(cfg config.SearchConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.Logger = logger.With("component", "search")
	if cfg.Retries > 0 {
		rc.RetryMax = cfg.Retries
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = config.DefaultSearchMaxResults
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		http:       rc,
	}
}

// Search runs query and returns the formatted results blob.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	results, answer, err := c.Query(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(answer, results), nil
}

// Query runs query and returns the raw results and summary answer.
func (c *Client) Query(ctx context.Context, query string) ([]Result, string, error) {
	body, err := json.Marshal(searchRequest{APIKey: c.apiKey, Query: query, MaxResults: c.maxResults})
	if err != nil {
		return nil, "", fmt.Errorf("encoding search request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", fmt.Errorf("search endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, "", fmt.Errorf("decoding search response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return nil, "", ErrNoResults
	}
	return decoded.Results, decoded.Answer, nil
}

// Format renders results as the context blob appended to a prompt.
func Format(answer string, results []Result) string {
	var sb strings.Builder
	sb.WriteString(ResultsHeader)
	if answer != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", answer)
	}
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Content))
	}
	return sb.String()
}
