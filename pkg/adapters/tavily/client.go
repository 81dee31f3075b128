// Package tavily wraps the Tavily Search and Extract REST APIs used for web
// source discovery and full-text retrieval.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/apperrors"
)

// maxExtractURLs is the Tavily Extract per-call limit.
const maxExtractURLs = 20

// Client performs authenticated Tavily calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// NewClient wires an HTTP client with a sane timeout when none is supplied.
func NewClient(httpClient *http.Client, baseURL, apiKey string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.Named("tavily"),
	}
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

// Domain returns the hostname of the result URL.
func (r *SearchResult) Domain() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Search runs a web search, optionally asking for raw page content inline.
func (c *Client) Search(ctx context.Context, query string, maxResults int, includeRawContent bool) ([]*SearchResult, error) {
	payload := map[string]any{
		"query":               query,
		"max_results":         maxResults,
		"include_raw_content": includeRawContent,
	}

	var parsed struct {
		Results []*SearchResult `json:"results"`
	}
	if err := c.post(ctx, "/search", payload, &parsed, "search"); err != nil {
		return nil, err
	}

	c.logger.Debug("Tavily search completed",
		zap.String("query", query),
		zap.Int("hits", len(parsed.Results)))

	return parsed.Results, nil
}

// ExtractResult is the full content extracted from one URL.
type ExtractResult struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// Extract fetches full content for up to 20 URLs per call.
func (c *Client) Extract(ctx context.Context, urls []string) ([]*ExtractResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if len(urls) > maxExtractURLs {
		urls = urls[:maxExtractURLs]
	}

	payload := map[string]any{"urls": urls}

	var parsed struct {
		Results []*ExtractResult `json:"results"`
	}
	if err := c.post(ctx, "/extract", payload, &parsed, "extract"); err != nil {
		return nil, err
	}

	return parsed.Results, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any, op string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewAdapterError("tavily", op, false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewAdapterError("tavily", op, false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewAdapterError("tavily", op, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewAdapterError("tavily", op, true, err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return apperrors.NewAdapterError("tavily", op, retryable,
			fmt.Errorf("tavily returned %s: %s", resp.Status, truncate(string(respBody), 200)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewAdapterError("tavily", op, false,
			fmt.Errorf("failed to decode %s response: %w", op, err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
