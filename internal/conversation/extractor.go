package conversation

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

//go:embed rules.yaml
var defaultRules []byte

// multiValued categories accumulate every matched value instead of picking one.
var multiValued = map[string]bool{
	schema.CategoryMechanics:  true,
	schema.CategoryObjectives: true,
}

// Rule is one row of the extraction table.
type Rule struct {
	Category string
	Value    string
	Weight   float64
	pattern  *regexp.Regexp
}

// Intent is the set of keyword intents detected in a single turn.
type Intent struct {
	Progress bool
	Ready    bool
	Change   bool
	Generate bool
}

// Signals is the extractor output for a batch of text.
type Signals struct {
	Requirements schema.Requirements
	Confidence   map[string]float64
	Matches      map[string]int
}

// Detected reports whether any category other than the title matched.
func (s Signals) Detected() bool {
	for cat, n := range s.Matches {
		if cat != schema.CategoryTitle && n > 0 {
			return true
		}
	}
	return false
}

// Extractor applies the declarative rule table to conversation text. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	rules   []Rule
	caps    map[string]float64
	intents map[string][]*regexp.Regexp
}

type ruleFile struct {
	Categories []struct {
		Name  string  `yaml:"name"`
		Cap   float64 `yaml:"cap"`
		Rules []struct {
			Value         string  `yaml:"value"`
			Weight        float64 `yaml:"weight"`
			Pattern       string  `yaml:"pattern"`
			CaseSensitive bool    `yaml:"case_sensitive"`
		} `yaml:"rules"`
	} `yaml:"categories"`
	Intents map[string][]string `yaml:"intents"`
}

// NewExtractor builds an extractor from the embedded rule table.
func NewExtractor() (*Extractor, error) {
	return LoadExtractor(defaultRules)
}

// LoadExtractor builds an extractor from a YAML rule table.
func LoadExtractor(data []byte) (*Extractor, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}

	e := &Extractor{
		caps:    make(map[string]float64),
		intents: make(map[string][]*regexp.Regexp),
	}
	for _, cat := range rf.Categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("rule category without a name")
		}
		limit := cat.Cap
		if limit <= 0 {
			limit = 1.0
		}
		e.caps[cat.Name] = limit
		for i, r := range cat.Rules {
			expr := r.Pattern
			if !r.CaseSensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("category %s rule %d: %w", cat.Name, i, err)
			}
			if r.Weight <= 0 {
				return nil, fmt.Errorf("category %s rule %d: weight must be positive", cat.Name, i)
			}
			e.rules = append(e.rules, Rule{Category: cat.Name, Value: r.Value, Weight: r.Weight, pattern: re})
		}
	}
	for name, patterns := range rf.Intents {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("intent %s: %w", name, err)
			}
			e.intents[name] = append(e.intents[name], re)
		}
	}
	return e, nil
}

// Extract analyzes the accumulated user text. Each match of a rule adds its weight to
// the category confidence, capped per category. Single-valued categories take the value
// of the highest-weight matching rule, earlier rules winning ties.
func (e *Extractor) Extract(history []string) Signals {
	text := strings.Join(history, "\n")
	sig := Signals{
		Confidence: make(map[string]float64),
		Matches:    make(map[string]int),
	}
	best := make(map[string]float64)

	for _, r := range e.rules {
		matches := r.pattern.FindAllStringSubmatchIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		sig.Matches[r.Category] += len(matches)
		sig.Confidence[r.Category] = min(sig.Confidence[r.Category]+r.Weight*float64(len(matches)), e.caps[r.Category])

		value := expandValue(r, text, matches[0])
		if value == "" {
			continue
		}
		if multiValued[r.Category] {
			assignMulti(&sig.Requirements, r.Category, value)
			continue
		}
		if r.Weight > best[r.Category] {
			best[r.Category] = r.Weight
			assignSingle(&sig.Requirements, r.Category, value)
		}
	}
	return sig
}

// DetectIntent checks a single turn against the intent keyword lists.
func (e *Extractor) DetectIntent(text string) Intent {
	return Intent{
		Progress: e.matchIntent("progress", text),
		Ready:    e.matchIntent("ready", text),
		Change:   e.matchIntent("change", text),
		Generate: e.matchIntent("generate", text),
	}
}

func (e *Extractor) matchIntent(name, text string) bool {
	for _, re := range e.intents[name] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func expandValue(r Rule, text string, match []int) string {
	if !strings.Contains(r.Value, "$") {
		return r.Value
	}
	out := string(r.pattern.ExpandString(nil, r.Value, text, match))
	out = strings.TrimRight(strings.TrimSpace(out), ".,!?;:")
	if r.Category != schema.CategoryTitle {
		out = strings.ToLower(out)
	}
	return out
}

func assignSingle(req *schema.Requirements, category, value string) {
	switch category {
	case schema.CategoryGenre:
		req.Genre = value
	case schema.CategoryPlayerMode:
		req.PlayerMode = schema.PlayerMode(value)
	case schema.CategoryDifficulty:
		req.Difficulty = value
	case schema.CategoryVisualStyle:
		req.VisualStyle = value
	case schema.CategoryDuration:
		req.Duration = value
	case schema.CategoryTargetMetric:
		req.TargetMetric = value
	case schema.CategoryTitle:
		req.Title = truncateRunes(value, schema.TitleMax)
	}
}

func assignMulti(req *schema.Requirements, category, value string) {
	switch category {
	case schema.CategoryMechanics:
		req.AddMechanic(value)
	case schema.CategoryObjectives:
		req.AddObjective(value)
	}
}

// Merge folds extracted signals into the running snapshot. Values already resolved
// are kept; unset fields are filled; sets only grow.
func Merge(dst *schema.Requirements, src schema.Requirements) {
	fill := func(d *string, s string) {
		if *d == "" && s != "" {
			*d = s
		}
	}
	fill(&dst.Title, src.Title)
	fill(&dst.Genre, src.Genre)
	fill(&dst.Difficulty, src.Difficulty)
	fill(&dst.VisualStyle, src.VisualStyle)
	fill(&dst.Duration, src.Duration)
	fill(&dst.TargetMetric, src.TargetMetric)
	if dst.PlayerMode == "" {
		dst.PlayerMode = src.PlayerMode
	}
	for _, m := range src.Mechanics {
		dst.AddMechanic(m)
	}
	for _, o := range src.Objectives {
		dst.AddObjective(o)
	}
}

// Patch applies an explicit change request: any value present in src replaces the
// current one. Sets still only grow.
func Patch(dst *schema.Requirements, src schema.Requirements) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Title, src.Title)
	set(&dst.Genre, src.Genre)
	set(&dst.Difficulty, src.Difficulty)
	set(&dst.VisualStyle, src.VisualStyle)
	set(&dst.Duration, src.Duration)
	set(&dst.TargetMetric, src.TargetMetric)
	if src.PlayerMode != "" {
		dst.PlayerMode = src.PlayerMode
	}
	for _, m := range src.Mechanics {
		dst.AddMechanic(m)
	}
	for _, o := range src.Objectives {
		dst.AddObjective(o)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
