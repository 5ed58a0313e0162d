package conversation

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

//go:embed questions.yaml
var defaultCatalog []byte

// Category is one entry of the question catalog.
type Category struct {
	Name          string   `yaml:"name"`
	Priority      int      `yaml:"priority"`
	MinConfidence float64  `yaml:"min_confidence"`
	Questions     []string `yaml:"questions"`
}

// PlannerInput is everything the planner looks at. The planner keeps no state of its own.
type PlannerInput struct {
	Requirements *schema.Requirements
	Confidence   map[string]float64
	Asked        map[string]bool
}

// Planner picks the next question from a fixed catalog.
type Planner struct {
	categories []Category
}

// NewPlanner builds a planner from the embedded catalog.
func NewPlanner() (*Planner, error) {
	return LoadPlanner(defaultCatalog)
}

// LoadPlanner builds a planner from a YAML catalog, sorted by ascending priority.
func LoadPlanner(data []byte) (*Planner, error) {
	var doc struct {
		Categories []Category `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse question catalog: %w", err)
	}
	for _, c := range doc.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("catalog category without a name")
		}
	}
	cats := doc.Categories
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Priority < cats[j].Priority })
	return &Planner{categories: cats}, nil
}

// Next returns the first not-yet-asked question of the highest-priority category
// that is still needed, or nil when nothing is left to ask.
func (p *Planner) Next(in PlannerInput) *schema.Question {
	var needed []Category
	for _, c := range p.categories {
		if stillNeeded(c, in) {
			needed = append(needed, c)
		}
	}
	return nextQuestion(needed, in.Asked)
}

func nextQuestion(cats []Category, asked map[string]bool) *schema.Question {
	if len(cats) == 0 {
		return nil
	}
	top := cats[0]
	for i, text := range top.Questions {
		if !asked[schema.LedgerKey(top.Name, i)] {
			return &schema.Question{Category: top.Name, Index: i, Text: text}
		}
	}
	// exhausted, try the next category
	return nextQuestion(cats[1:], asked)
}

func stillNeeded(c Category, in PlannerInput) bool {
	if in.Requirements == nil || !in.Requirements.Has(c.Name) {
		return true
	}
	return in.Confidence[c.Name] < c.MinConfidence
}
