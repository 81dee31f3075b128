package models

import (
	"time"

	"github.com/google/uuid"
)

// Analysis is the AI-produced assessment of one source. At most one analysis
// exists per source; re-analysis overwrites in place.
type Analysis struct {
	ID        uuid.UUID `json:"id"`
	SourceID  uuid.UUID `json:"source_id"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceAnalysis pairs an analysis with the source metadata the agent needs
// while reflecting and writing.
type SourceAnalysis struct {
	Source   Source   `json:"source"`
	Analysis Analysis `json:"analysis"`
}
