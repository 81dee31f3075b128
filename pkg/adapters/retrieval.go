package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/adapters/pubmed"
	"github.com/loaderland/concept-runner/pkg/adapters/tavily"
	"github.com/loaderland/concept-runner/pkg/adapters/webpage"
	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/models"
	"github.com/loaderland/concept-runner/pkg/retry"
)

// Retrieval fetches full text for one source, routing by provider. PubMed
// sources try the PMC open-access full text first and fall back to the stored
// abstract; web sources try the extract API and fall back to fetching the
// page directly.
type Retrieval struct {
	pubmed  *pubmed.Client
	tavily  *tavily.Client
	webpage *webpage.Extractor
	logger  *zap.Logger
}

// NewRetrieval builds the provider-routing retrieval adapter.
func NewRetrieval(pm *pubmed.Client, tv *tavily.Client, wp *webpage.Extractor, logger *zap.Logger) *Retrieval {
	return &Retrieval{
		pubmed:  pm,
		tavily:  tv,
		webpage: wp,
		logger:  logger.Named("retrieval"),
	}
}

var _ RetrievalAdapter = (*Retrieval)(nil)

// Retrieve returns the best available text for src. An error means nothing
// usable could be fetched; the engine records it on the source.
func (r *Retrieval) Retrieve(ctx context.Context, src *models.Source) (string, error) {
	switch src.Provider {
	case models.SourceProviderPubMed:
		return r.retrievePubMed(ctx, src)
	case models.SourceProviderTavily:
		return r.retrieveWeb(ctx, src)
	default:
		return "", fmt.Errorf("unknown source provider %q: %w", src.Provider, apperrors.ErrValidation)
	}
}

func (r *Retrieval) retrievePubMed(ctx context.Context, src *models.Source) (string, error) {
	if src.Metadata.PMCID != "" {
		text, err := retry.DoWithResult(ctx, nil, func() (string, error) {
			return r.pubmed.FetchFulltext(ctx, src.Metadata.PMCID)
		})
		if err != nil {
			if !apperrors.IsRetryableAdapterError(err) {
				return "", err
			}
			r.logger.Warn("PMC fulltext fetch failed, falling back to abstract",
				zap.String("pmcid", src.Metadata.PMCID),
				zap.Error(err))
		} else if text != "" {
			return text, nil
		}
	}

	if src.Snippet != nil && *src.Snippet != "" {
		return "[Abstract only]\n" + *src.Snippet, nil
	}

	return "", apperrors.NewAdapterError("pubmed", "retrieve", false,
		fmt.Errorf("no full text or abstract available for PMID %s", src.Locator))
}

func (r *Retrieval) retrieveWeb(ctx context.Context, src *models.Source) (string, error) {
	if r.tavily != nil {
		results, err := retry.DoWithResult(ctx, nil, func() ([]*tavily.ExtractResult, error) {
			return r.tavily.Extract(ctx, []string{src.Locator})
		})
		if err != nil {
			if !apperrors.IsRetryableAdapterError(err) {
				return "", err
			}
			r.logger.Warn("Extract API failed, falling back to direct fetch",
				zap.String("url", src.Locator),
				zap.Error(err))
		} else if len(results) > 0 && results[0].RawContent != "" {
			return results[0].RawContent, nil
		}
	}

	return retry.DoWithResult(ctx, nil, func() (string, error) {
		return r.webpage.Extract(ctx, src.Locator)
	})
}
