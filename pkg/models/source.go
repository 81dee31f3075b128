package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Retrieval Status
// ============================================================================

// RetrievalStatus is the tri-state full-text status persisted per source so
// crash recovery is a store query, not a log reconstruction.
type RetrievalStatus string

const (
	RetrievalStatusPending   RetrievalStatus = "pending"
	RetrievalStatusRetrieved RetrievalStatus = "retrieved"
	RetrievalStatusFailed    RetrievalStatus = "failed"
)

// IsTerminal returns true once a retrieval attempt has been recorded.
func (s RetrievalStatus) IsTerminal() bool {
	return s == RetrievalStatusRetrieved || s == RetrievalStatusFailed
}

// ============================================================================
// Source Providers
// ============================================================================

// SourceProvider identifies which discovery capability produced a source.
type SourceProvider string

const (
	SourceProviderPubMed SourceProvider = "pubmed"
	SourceProviderTavily SourceProvider = "tavily"
)

// ============================================================================
// Source
// ============================================================================

// Source is one candidate reference discovered for a concept. Rank preserves
// the discovery order within the concept. Locator is the provider-specific
// reference: a PMID for PubMed, a URL for web sources.
type Source struct {
	ID             uuid.UUID       `json:"id"`
	ConceptID      uuid.UUID       `json:"concept_id"`
	Provider       SourceProvider  `json:"provider"`
	Query          string          `json:"query"`
	Rank           int             `json:"rank"`
	Title          string          `json:"title"`
	Locator        string          `json:"locator"`
	Snippet        *string         `json:"snippet,omitempty"`
	Metadata       SourceMetadata  `json:"metadata"`
	Fulltext       *string         `json:"-"`
	Status         RetrievalStatus `json:"status"`
	RetrievalError *string         `json:"retrieval_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SourceMetadata carries provider-specific discovery fields. Stored as JSONB.
type SourceMetadata struct {
	// PubMed
	PMCID   string   `json:"pmc_id,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Journal string   `json:"journal,omitempty"`
	Year    string   `json:"year,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	// Web
	Domain string `json:"domain,omitempty"`
}

// HasFulltext reports whether retrieved text is available for analysis.
func (s *Source) HasFulltext() bool {
	return s.Fulltext != nil && *s.Fulltext != ""
}
