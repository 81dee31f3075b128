// Package webpage extracts readable article text from raw HTML pages. It is
// the fallback when the extract API yields nothing for a web source.
package webpage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/loaderland/concept-runner/pkg/apperrors"
)

// Extractor fetches a page and reduces it to plain text.
type Extractor struct {
	client   *http.Client
	maxChars int
}

// NewExtractor wires an HTTP client; maxChars caps the extracted text.
func NewExtractor(client *http.Client, maxChars int) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if maxChars <= 0 {
		maxChars = 15000
	}
	return &Extractor{client: client, maxChars: maxChars}
}

// Extract downloads pageURL and returns its readable text, preferring the
// article/main regions over the full body.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", apperrors.NewAdapterError("webpage", "extract", false, err)
	}
	req.Header.Set("User-Agent", "concept-runner/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", apperrors.NewAdapterError("webpage", "extract", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", apperrors.NewAdapterError("webpage", "extract", retryable,
			fmt.Errorf("page returned %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", apperrors.NewAdapterError("webpage", "extract", false, err)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	region := doc.Find("article")
	if region.Length() == 0 {
		region = doc.Find("main")
	}
	if region.Length() == 0 {
		region = doc.Find("body")
	}

	text := collapseWhitespace(region.Text())
	if len(text) > e.maxChars {
		text = truncateAtRune(text, e.maxChars) + "\n\n[Truncated]"
	}
	return text, nil
}

// truncateAtRune cuts s at or just below limit bytes without splitting a
// multi-byte rune.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
