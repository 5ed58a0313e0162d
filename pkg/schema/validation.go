package schema

import (
	"fmt"
	"strings"
)

// CategoryScore is the points earned in one validation category.
type CategoryScore struct {
	Score int `json:"score" yaml:"score"`
	Max   int `json:"max" yaml:"max"`
}

// ValidationResult is the scored verdict for one artifact. It is never mutated after creation.
type ValidationResult struct {
	Score      int                      `json:"score" yaml:"score"`
	MaxScore   int                      `json:"maxScore" yaml:"max_score"`
	Categories map[string]CategoryScore `json:"categories" yaml:"categories"`
	Errors     []string                 `json:"errors" yaml:"errors"`
	Warnings   []string                 `json:"warnings" yaml:"warnings"`
	Genre      string                   `json:"genre,omitempty" yaml:"genre,omitempty"`
	IsValid    bool                     `json:"isValid" yaml:"is_valid"`
}

// Percent is the score as a fraction of the maximum, 0..100.
func (v *ValidationResult) Percent() float64 {
	if v.MaxScore == 0 {
		return 0
	}
	return float64(v.Score) * 100 / float64(v.MaxScore)
}

// ValidateRequirements checks field limits before requirements are used to build a prompt.
func ValidateRequirements(r *Requirements) error {
	if len(r.Title) > TitleMax {
		return fmt.Errorf("title must be at most %d characters", TitleMax)
	}
	if len(r.Description) > DescriptionMax {
		return fmt.Errorf("description must be at most %d characters", DescriptionMax)
	}
	switch r.PlayerMode {
	case "", PlayerSolo, PlayerDual, PlayerMulti:
	default:
		return fmt.Errorf("invalid player mode: %s", r.PlayerMode)
	}
	for _, v := range []string{r.Genre, r.Difficulty, r.VisualStyle, r.Duration, r.TargetMetric} {
		if len(v) > ValueMax {
			return fmt.Errorf("value %q exceeds %d characters", truncate(v, 16), ValueMax)
		}
	}
	if len(r.Mechanics) > MechanicsMax {
		return fmt.Errorf("must have at most %d mechanics", MechanicsMax)
	}
	if len(r.Objectives) > ObjectivesMax {
		return fmt.Errorf("must have at most %d objectives", ObjectivesMax)
	}
	if strings.TrimSpace(r.Genre) == "" && len(r.Mechanics) == 0 {
		return fmt.Errorf("requirements need a genre or at least one mechanic")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
