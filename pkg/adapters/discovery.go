package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/adapters/pubmed"
	"github.com/loaderland/concept-runner/pkg/adapters/tavily"
	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/models"
	"github.com/loaderland/concept-runner/pkg/retry"
)

const (
	// topPerQuery caps how many PubMed hits are kept from each query after
	// the provider's relevance ordering.
	topPerQuery = 5
)

// Discovery queries the configured providers and merges their candidates.
// The tavily client may be nil when the web provider is not configured; the
// engine rejects web/both concepts before discovery in that case.
type Discovery struct {
	pubmed           *pubmed.Client
	tavily           *tavily.Client
	pubmedMaxResults int
	tavilyMaxResults int
	logger           *zap.Logger
}

// NewDiscovery builds the composite discovery adapter.
func NewDiscovery(pm *pubmed.Client, tv *tavily.Client, pubmedMaxResults, tavilyMaxResults int, logger *zap.Logger) *Discovery {
	if pubmedMaxResults <= 0 {
		pubmedMaxResults = 15
	}
	if tavilyMaxResults <= 0 {
		tavilyMaxResults = 5
	}
	return &Discovery{
		pubmed:           pm,
		tavily:           tv,
		pubmedMaxResults: pubmedMaxResults,
		tavilyMaxResults: tavilyMaxResults,
		logger:           logger.Named("discovery"),
	}
}

var _ DiscoveryAdapter = (*Discovery)(nil)

// Discover runs every query against the providers selected by mode, tagging
// each candidate with its originating query and de-duplicating by locator.
// Order reflects discovery rank. An empty result is not an error.
func (d *Discovery) Discover(ctx context.Context, queries []string, mode models.SourceMode) ([]*models.Source, error) {
	seen := make(map[string]struct{})
	candidates := make([]*models.Source, 0)

	if mode.IncludesPubMed() {
		found, err := d.discoverPubMed(ctx, queries, seen)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	if mode.IncludesWeb() {
		if d.tavily == nil {
			return nil, fmt.Errorf("web search requested but not configured: %w", apperrors.ErrValidation)
		}
		found, err := d.discoverWeb(ctx, queries, seen)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	d.logger.Info("Discovery completed",
		zap.String("mode", string(mode)),
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

func (d *Discovery) discoverPubMed(ctx context.Context, queries []string, seen map[string]struct{}) ([]*models.Source, error) {
	candidates := make([]*models.Source, 0)

	for _, query := range queries {
		pmids, err := retry.DoWithResult(ctx, nil, func() ([]string, error) {
			return d.pubmed.Search(ctx, query, d.pubmedMaxResults)
		})
		if err != nil {
			return nil, err
		}
		if len(pmids) == 0 {
			continue
		}

		papers, err := retry.DoWithResult(ctx, nil, func() ([]*pubmed.PaperMeta, error) {
			return d.pubmed.FetchMetadata(ctx, pmids)
		})
		if err != nil {
			return nil, err
		}

		kept := 0
		for _, paper := range papers {
			if kept >= topPerQuery {
				break
			}
			if _, dup := seen[paper.PMID]; dup {
				continue
			}
			seen[paper.PMID] = struct{}{}
			kept++

			snippet := paper.Abstract
			candidates = append(candidates, &models.Source{
				Provider: models.SourceProviderPubMed,
				Query:    query,
				Title:    paper.Title,
				Locator:  paper.PMID,
				Snippet:  nilIfEmpty(snippet),
				Metadata: models.SourceMetadata{
					PMCID:   paper.PMCID,
					Authors: paper.Authors,
					Journal: paper.Journal,
					Year:    paper.Year,
					DOI:     paper.DOI,
				},
			})
		}
	}

	return candidates, nil
}

func (d *Discovery) discoverWeb(ctx context.Context, queries []string, seen map[string]struct{}) ([]*models.Source, error) {
	candidates := make([]*models.Source, 0)

	for _, query := range queries {
		results, err := retry.DoWithResult(ctx, nil, func() ([]*tavily.SearchResult, error) {
			return d.tavily.Search(ctx, query, d.tavilyMaxResults, false)
		})
		if err != nil {
			return nil, err
		}

		for _, r := range results {
			if r.URL == "" {
				continue
			}
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}

			candidates = append(candidates, &models.Source{
				Provider: models.SourceProviderTavily,
				Query:    query,
				Title:    r.Title,
				Locator:  r.URL,
				Snippet:  nilIfEmpty(r.Content),
				Metadata: models.SourceMetadata{Domain: r.Domain()},
			})
		}
	}

	return candidates, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
