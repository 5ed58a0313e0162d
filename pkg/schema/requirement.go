package schema

import (
	"slices"
	"time"
)

// Requirement category names shared by the extractor, the planner and the scorer.
const (
	CategoryGenre        = "genre"
	CategoryPlayerMode   = "playerMode"
	CategoryMechanics    = "mechanics"
	CategoryDifficulty   = "difficulty"
	CategoryObjectives   = "objectives"
	CategoryVisualStyle  = "visualStyle"
	CategoryDuration     = "duration"
	CategoryTargetMetric = "targetMetric"
	CategoryTitle        = "title"
	CategoryDescription  = "description"
)

// completionWeights maps each scored category to its contribution.
var completionWeights = []struct {
	category string
	weight   int
}{
	{CategoryGenre, 20},
	{CategoryPlayerMode, 20},
	{CategoryMechanics, 15},
	{CategoryDifficulty, 10},
	{CategoryObjectives, 15},
	{CategoryVisualStyle, 10},
	{CategoryDuration, 5},
	{CategoryTargetMetric, 5},
}

// Requirements is the structured requirement snapshot collected during a conversation.
type Requirements struct {
	Title        string     `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	PlayerMode   PlayerMode `json:"playerMode,omitempty" yaml:"player_mode,omitempty"`
	Genre        string     `json:"genre,omitempty" yaml:"genre,omitempty"`
	Mechanics    []string   `json:"mechanics,omitempty" yaml:"mechanics,omitempty"`
	Difficulty   string     `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Objectives   []string   `json:"objectives,omitempty" yaml:"objectives,omitempty"`
	VisualStyle  string     `json:"visualStyle,omitempty" yaml:"visual_style,omitempty"`
	Duration     string     `json:"duration,omitempty" yaml:"duration,omitempty"`
	TargetMetric string     `json:"targetMetric,omitempty" yaml:"target_metric,omitempty"`
	Confirmed    bool       `json:"confirmed" yaml:"confirmed"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty" yaml:"confirmed_at,omitempty"`
}

// Clone creates a deep copy of the requirements.
func (r Requirements) Clone() Requirements {
	out := r
	out.Mechanics = slices.Clone(r.Mechanics)
	out.Objectives = slices.Clone(r.Objectives)
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return out
}

// Has reports whether any value exists for the named category.
func (r *Requirements) Has(category string) bool {
	switch category {
	case CategoryGenre:
		return r.Genre != ""
	case CategoryPlayerMode:
		return r.PlayerMode != ""
	case CategoryMechanics:
		return len(r.Mechanics) > 0
	case CategoryDifficulty:
		return r.Difficulty != ""
	case CategoryObjectives:
		return len(r.Objectives) > 0
	case CategoryVisualStyle:
		return r.VisualStyle != ""
	case CategoryDuration:
		return r.Duration != ""
	case CategoryTargetMetric:
		return r.TargetMetric != ""
	case CategoryTitle:
		return r.Title != ""
	case CategoryDescription:
		return r.Description != ""
	}
	return false
}

// AddMechanic inserts a mechanic keeping the list sorted and free of duplicates.
// It reports whether the mechanic was new.
func (r *Requirements) AddMechanic(m string) bool {
	if m == "" || len(r.Mechanics) >= MechanicsMax {
		return false
	}
	i, found := slices.BinarySearch(r.Mechanics, m)
	if found {
		return false
	}
	r.Mechanics = slices.Insert(r.Mechanics, i, m)
	return true
}

// AddObjective appends an objective unless it is already listed.
func (r *Requirements) AddObjective(o string) bool {
	if o == "" || len(r.Objectives) >= ObjectivesMax || slices.Contains(r.Objectives, o) {
		return false
	}
	r.Objectives = append(r.Objectives, o)
	return true
}

// CompletionScore is the weighted sum of the categories that have a value, capped at 100.
func (r *Requirements) CompletionScore() int {
	score := 0
	for _, w := range completionWeights {
		if r.Has(w.category) {
			score += w.weight
		}
	}
	return min(score, 100)
}
