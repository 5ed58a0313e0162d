package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	ex, err := NewExtractor()
	require.NoError(t, err)
	return ex
}

func TestExtractor_MazeScenario(t *testing.T) {
	ex := newTestExtractor(t)

	sig := ex.Extract([]string{"I want a game where you tilt to roll a ball through a maze, just for one person"})

	assert.Equal(t, "maze", sig.Requirements.Genre)
	assert.Equal(t, schema.PlayerSolo, sig.Requirements.PlayerMode)
	assert.Equal(t, []string{"tilt"}, sig.Requirements.Mechanics)
	assert.GreaterOrEqual(t, sig.Requirements.CompletionScore(), 55)
	assert.True(t, sig.Detected())
}

func TestExtractor_ConfidenceIsCapped(t *testing.T) {
	ex := newTestExtractor(t)

	sig := ex.Extract([]string{"maze maze maze labyrinth maze", "a maze again"})

	assert.Equal(t, 1.0, sig.Confidence[schema.CategoryGenre])
	assert.Equal(t, 6, sig.Matches[schema.CategoryGenre])
}

func TestExtractor_ConfidenceAccumulates(t *testing.T) {
	ex := newTestExtractor(t)
	history := []string{"you roll the marble"}

	first := ex.Extract(history)
	history = append(history, "and you tilt the phone")
	second := ex.Extract(history)

	assert.Greater(t, second.Confidence[schema.CategoryMechanics], first.Confidence[schema.CategoryMechanics])
}

func TestExtractor_Captures(t *testing.T) {
	ex := newTestExtractor(t)

	tests := []struct {
		name     string
		text     string
		title    string
		duration string
	}{
		{"quoted title", `it's called "space dash" and lasts 3 minutes`, "space dash", "3 minutes"},
		{"capitalized title", "Let's name it, no wait, it's named Marble Quest.", "Marble Quest", ""},
		{"short rounds", "quick game named Tilt Rush", "Tilt Rush", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := ex.Extract([]string{tt.text})
			assert.Equal(t, tt.title, sig.Requirements.Title)
			assert.Equal(t, tt.duration, sig.Requirements.Duration)
		})
	}
}

func TestExtractor_HighestWeightWins(t *testing.T) {
	ex := newTestExtractor(t)

	// physics (0.4) appears first in the text but maze (0.8) outweighs it
	sig := ex.Extract([]string{"roll a ball through a labyrinth"})

	assert.Equal(t, "maze", sig.Requirements.Genre)
}

func TestExtractor_DetectIntent(t *testing.T) {
	ex := newTestExtractor(t)

	tests := []struct {
		text string
		want Intent
	}{
		{"I want a racing game", Intent{Ready: true}},
		{"sounds good, next", Intent{Progress: true}},
		{"actually make it harder", Intent{Change: true}},
		{"great, generate it", Intent{Generate: true}},
		{"hmm", Intent{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ex.DetectIntent(tt.text))
		})
	}
}

func TestLoadExtractor_Errors(t *testing.T) {
	_, err := LoadExtractor([]byte("categories: [{name: genre, rules: [{value: x, weight: 1, pattern: '('}]}]"))
	assert.Error(t, err)

	_, err = LoadExtractor([]byte("categories: [{name: genre, rules: [{value: x, weight: 0, pattern: 'x'}]}]"))
	assert.ErrorContains(t, err, "weight must be positive")

	_, err = LoadExtractor([]byte("categories: [{rules: []}]"))
	assert.Error(t, err)
}

func TestMergeKeepsResolvedValues(t *testing.T) {
	dst := schema.Requirements{Genre: "maze", Mechanics: []string{"tilt"}}

	Merge(&dst, schema.Requirements{Genre: "racing", Difficulty: "hard", Mechanics: []string{"shake"}})

	assert.Equal(t, "maze", dst.Genre)
	assert.Equal(t, "hard", dst.Difficulty)
	assert.Equal(t, []string{"shake", "tilt"}, dst.Mechanics)
}

func TestPatchOverridesValues(t *testing.T) {
	dst := schema.Requirements{Genre: "maze", Difficulty: "hard", Mechanics: []string{"tilt"}}

	Patch(&dst, schema.Requirements{Difficulty: "easy"})

	assert.Equal(t, "easy", dst.Difficulty)
	assert.Equal(t, "maze", dst.Genre)
	assert.Equal(t, []string{"tilt"}, dst.Mechanics)
}
