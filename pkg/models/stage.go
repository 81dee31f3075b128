package models

// ============================================================================
// Pipeline Stages
// ============================================================================

// Stage represents a concept's position in the fixed pipeline lifecycle.
// State machine:
//
//	created → searching → retrieving → analyzing → reflecting → writing → published
//
// Stages only ever advance forward, one step at a time. There is no failed
// stage: provider failures are recorded per-source and never move the concept.
type Stage string

const (
	StageCreated    Stage = "created"
	StageSearching  Stage = "searching"
	StageRetrieving Stage = "retrieving"
	StageAnalyzing  Stage = "analyzing"
	StageReflecting Stage = "reflecting"
	StageWriting    Stage = "writing"
	StagePublished  Stage = "published"
)

// stageOrder fixes the forward order of the pipeline.
var stageOrder = []Stage{
	StageCreated,
	StageSearching,
	StageRetrieving,
	StageAnalyzing,
	StageReflecting,
	StageWriting,
	StagePublished,
}

// IsValidStage checks if the given stage is one of the seven defined values.
func IsValidStage(s Stage) bool {
	for _, v := range stageOrder {
		if v == s {
			return true
		}
	}
	return false
}

// Index returns the stage's position in the pipeline order, or -1 for an
// unknown stage.
func (s Stage) Index() int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. The terminal stage returns itself.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i == len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

// CanAdvanceTo reports whether moving from s to target is a legal single
// forward step.
func (s Stage) CanAdvanceTo(target Stage) bool {
	return s.Next() == target && s != target
}

// AtLeast reports whether s has reached target in the pipeline order.
func (s Stage) AtLeast(target Stage) bool {
	si, ti := s.Index(), target.Index()
	return si >= 0 && ti >= 0 && si >= ti
}

// IsTerminal returns true for the published stage.
func (s Stage) IsTerminal() bool {
	return s == StagePublished
}

// Progress maps the stage to the rough percentage surfaced by concept_status.
func (s Stage) Progress() int {
	switch s {
	case StageCreated:
		return 5
	case StageSearching:
		return 25
	case StageRetrieving:
		return 40
	case StageAnalyzing:
		return 60
	case StageReflecting:
		return 75
	case StageWriting:
		return 90
	case StagePublished:
		return 100
	}
	return 0
}
