// Package validation scores generated sensor-game artifacts. Scoring is
// deterministic: the same artifact text always yields the same result.
package validation

import (
	"regexp"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Category names in reporting order.
const (
	CategoryStructure      = "structure"
	CategorySDKIntegration = "sdkIntegration"
	CategoryGameLogic      = "gameLogic"
	CategorySensorHandling = "sensorHandling"
	CategoryPresentation   = "presentation"
	CategoryGenreRules     = "genreRules"
)

// AcceptancePercent of MaxScore required for a valid artifact.
const AcceptancePercent = 80

type severity int

const (
	warning severity = iota
	hardError
)

// check is one independent test of the battery.
type check struct {
	category string
	points   int
	severity severity
	message  string
	test     func(a *artifact) bool
}

type artifact struct {
	raw   string
	lower string
}

func contains(subs ...string) func(a *artifact) bool {
	return func(a *artifact) bool {
		for _, s := range subs {
			if strings.Contains(a.lower, s) {
				return true
			}
		}
		return false
	}
}

func matches(expr string) func(a *artifact) bool {
	re := regexp.MustCompile(expr)
	return func(a *artifact) bool { return re.MatchString(a.raw) }
}

func all(tests ...func(a *artifact) bool) func(a *artifact) bool {
	return func(a *artifact) bool {
		for _, p := range tests {
			if !p(a) {
				return false
			}
		}
		return true
	}
}

var baseChecks = []check{
	{CategoryStructure, 5, hardError, "missing <!DOCTYPE html> declaration", contains("<!doctype html")},
	{CategoryStructure, 5, hardError, "missing <html> root element", all(contains("<html"), contains("</html>"))},
	{CategoryStructure, 3, warning, "missing <head> or <body> section", all(contains("<head"), contains("<body"))},
	{CategoryStructure, 3, warning, "missing viewport meta tag for mobile screens", matches(`(?i)<meta[^>]+name=["']viewport["']`)},
	{CategoryStructure, 2, warning, "missing or empty <title>", matches(`(?i)<title>\s*[^<\s][^<]*</title>`)},
	{CategoryStructure, 7, hardError, "missing SessionSDK script include", matches(`(?i)<script[^>]+src=["'][^"']*sessionsdk[^"']*["']`)},

	{CategorySDKIntegration, 10, hardError, "SessionSDK is never instantiated (new SessionSDK)", matches(`new\s+SessionSDK\s*\(`)},
	{CategorySDKIntegration, 8, warning, "no handler for the SDK connection events", matches(`\.on\(\s*['"](connected|session-created|sensor-connected)['"]`)},
	{CategorySDKIntegration, 7, warning, "session is never created (createSession)", matches(`\.createSession\s*\(`)},

	{CategoryGameLogic, 6, warning, "no requestAnimationFrame game loop", contains("requestanimationframe")},
	{CategoryGameLogic, 4, warning, "no update step found", matches(`\bupdate\w*\s*\(`)},
	{CategoryGameLogic, 4, warning, "no score tracking", contains("score")},
	{CategoryGameLogic, 3, warning, "no game over or restart handling", matches(`(?i)game\s*over|restart|reset`)},
	{CategoryGameLogic, 3, warning, "no win or lose condition", matches(`(?i)\b(win|won|lose|lost|victory|complete[d]?)\b`)},

	{CategorySensorHandling, 8, hardError, "no sensor-data handler", matches(`\.on\(\s*['"]sensor-data['"]`)},
	{CategorySensorHandling, 5, warning, "orientation data (beta/gamma) is not read", all(contains("orientation"), matches(`\b(beta|gamma)\b`))},
	{CategorySensorHandling, 3, warning, "acceleration data is not read", contains("acceleration")},
	{CategorySensorHandling, 4, warning, "sensor values are not clamped or smoothed", matches(`Math\.(max|min)\(|\bclamp\w*\(|\blerp\w*\(|\bsmooth\w*`)},

	{CategoryPresentation, 4, warning, "no <canvas> element", contains("<canvas")},
	{CategoryPresentation, 3, warning, "no styling", contains("<style", "stylesheet")},
	{CategoryPresentation, 3, warning, "session code or QR code is not displayed", matches(`(?i)session-?code|sessioncode|\bqr`)},
}

// genreChecks add up to 30 points each. A failing genre check is only a warning.
var genreChecks = map[string][]check{
	"maze": {
		{CategoryGenreRules, 10, warning, "maze: no walls", contains("wall")},
		{CategoryGenreRules, 10, warning, "maze: no goal or exit", contains("goal", "exit")},
		{CategoryGenreRules, 10, warning, "maze: no collision detection", contains("collision", "collide", "intersect")},
	},
	"racing": {
		{CategoryGenreRules, 10, warning, "racing: no laps or checkpoints", contains("lap", "checkpoint")},
		{CategoryGenreRules, 10, warning, "racing: no speed model", contains("speed", "velocity")},
		{CategoryGenreRules, 10, warning, "racing: no track", contains("track", "road")},
	},
	"platformer": {
		{CategoryGenreRules, 10, warning, "platformer: no jumping", contains("jump")},
		{CategoryGenreRules, 10, warning, "platformer: no gravity", contains("gravity")},
		{CategoryGenreRules, 10, warning, "platformer: no platforms", contains("platform")},
	},
	"shooter": {
		{CategoryGenreRules, 10, warning, "shooter: no projectiles", contains("bullet", "projectile")},
		{CategoryGenreRules, 10, warning, "shooter: no enemies or targets", contains("enem", "target")},
		{CategoryGenreRules, 10, warning, "shooter: no firing action", contains("fire", "shoot")},
	},
	"puzzle": {
		{CategoryGenreRules, 10, warning, "puzzle: no grid or tiles", contains("grid", "tile")},
		{CategoryGenreRules, 10, warning, "puzzle: no solve or match check", contains("solve", "match")},
		{CategoryGenreRules, 10, warning, "puzzle: no move counter", contains("moves", "movecount")},
	},
	"rhythm": {
		{CategoryGenreRules, 10, warning, "rhythm: no beat model", contains("beat", "bpm")},
		{CategoryGenreRules, 10, warning, "rhythm: no timing window", contains("timing", "tempo")},
		{CategoryGenreRules, 10, warning, "rhythm: no audio", contains("audio", "sound")},
	},
	"sports": {
		{CategoryGenreRules, 10, warning, "sports: no ball", contains("ball")},
		{CategoryGenreRules, 10, warning, "sports: no score keeping", contains("score")},
		{CategoryGenreRules, 10, warning, "sports: no opponent or goal", contains("opponent", "goal")},
	},
}

var genreMeta = regexp.MustCompile(`(?i)<meta[^>]+name=["']game-genre["'][^>]+content=["']([a-z-]+)["']`)

// Genres lists the genres with dedicated rules.
func Genres() []string {
	return []string{"maze", "racing", "platformer", "shooter", "puzzle", "rhythm", "sports"}
}

// Validator runs the check battery.
type Validator struct{}

// New returns a validator.
func New() *Validator {
	return &Validator{}
}

// Validate scores an artifact, applying genre rules when the artifact declares its
// genre through a game-genre meta tag.
func (v *Validator) Validate(text string) schema.ValidationResult {
	genre := ""
	if m := genreMeta.FindStringSubmatch(text); m != nil {
		genre = m[1]
	}
	return v.ValidateFor(text, genre)
}

// ValidateFor scores an artifact for a known genre. Unknown genres get base rules only.
func (v *Validator) ValidateFor(text, genre string) schema.ValidationResult {
	a := &artifact{raw: text, lower: strings.ToLower(text)}
	genre = strings.ToLower(strings.TrimSpace(genre))

	checks := baseChecks
	extra, hasGenre := genreChecks[genre]
	if hasGenre {
		checks = append(append([]check(nil), baseChecks...), extra...)
	} else {
		genre = ""
	}

	res := schema.ValidationResult{
		Categories: make(map[string]schema.CategoryScore),
		Errors:     []string{},
		Warnings:   []string{},
		Genre:      genre,
	}
	for _, c := range checks {
		cs := res.Categories[c.category]
		cs.Max += c.points
		if c.test(a) {
			cs.Score += c.points
		} else if c.severity == hardError {
			res.Errors = append(res.Errors, c.category+": "+c.message)
		} else {
			res.Warnings = append(res.Warnings, c.category+": "+c.message)
		}
		res.Categories[c.category] = cs
	}
	for _, cs := range res.Categories {
		res.Score += cs.Score
		res.MaxScore += cs.Max
	}
	res.IsValid = len(res.Errors) == 0 && res.Score >= Threshold(res.MaxScore)
	return res
}

// Threshold is the minimum score accepted for a given maximum.
func Threshold(maxScore int) int {
	return (maxScore*AcceptancePercent + 99) / 100
}
