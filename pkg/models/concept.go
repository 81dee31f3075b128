package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Source Modes
// ============================================================================

// SourceMode selects which discovery providers a concept searches.
type SourceMode string

const (
	SourceModePubMed SourceMode = "pubmed"
	SourceModeWeb    SourceMode = "web"
	SourceModeBoth   SourceMode = "both"
)

// ValidSourceModes contains all recognized mode values.
var ValidSourceModes = []SourceMode{SourceModePubMed, SourceModeWeb, SourceModeBoth}

// IsValidSourceMode checks if the given mode is recognized.
func IsValidSourceMode(m SourceMode) bool {
	for _, v := range ValidSourceModes {
		if v == m {
			return true
		}
	}
	return false
}

// IncludesPubMed reports whether the mode searches biomedical literature.
func (m SourceMode) IncludesPubMed() bool {
	return m == SourceModePubMed || m == SourceModeBoth
}

// IncludesWeb reports whether the mode searches the web.
func (m SourceMode) IncludesWeb() bool {
	return m == SourceModeWeb || m == SourceModeBoth
}

// ============================================================================
// Concept
// ============================================================================

// Concept is one research-idea workflow instance tracked end-to-end through
// the pipeline. It is an archival record and is never deleted.
type Concept struct {
	ID        uuid.UUID  `json:"id"`
	Idea      string     `json:"idea"`
	Slug      string     `json:"slug"`
	Mode      SourceMode `json:"mode"`
	Queries   []string   `json:"queries"`
	Stage     Stage      `json:"stage"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ConceptSummary is the cheap listing shape returned by concept_list. It
// omits source and analysis bodies.
type ConceptSummary struct {
	ID        uuid.UUID  `json:"id"`
	Idea      string     `json:"idea"`
	Slug      string     `json:"slug"`
	Mode      SourceMode `json:"mode"`
	Stage     Stage      `json:"stage"`
	Title     *string    `json:"title,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
