package models

import (
	"time"

	"github.com/google/uuid"
)

// Citation is one caller-supplied reference attached to an article.
type Citation struct {
	Ref   int    `json:"ref"`
	Title string `json:"title"`
	PMID  string `json:"pmid,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Article is the final markdown artifact produced for a concept. It exists
// only once the concept reaches the writing stage; publishing is one-way.
type Article struct {
	ConceptID   uuid.UUID  `json:"concept_id"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt,omitempty"`
	Markdown    string     `json:"markdown"`
	Citations   []Citation `json:"citations,omitempty"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
