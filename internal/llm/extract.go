package llm

import (
	"regexp"
	"strings"
)

// Strategy is one artifact extraction pattern.
type Strategy struct {
	Name    string
	extract func(text string) string
}

var (
	htmlFence   = regexp.MustCompile("(?s)```html[ \t]*\r?\n(.*?)```")
	anyFence    = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(.*?)```")
	doctypeDoc  = regexp.MustCompile(`(?is)<!DOCTYPE html.*</html>`)
	htmlElement = regexp.MustCompile(`(?is)<html[\s>].*</html>`)
)

// Strategies are tried in order, strictest first.
var Strategies = []Strategy{
	{Name: "html-fence", extract: func(text string) string {
		if m := htmlFence.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		return ""
	}},
	{Name: "any-fence", extract: func(text string) string {
		for _, m := range anyFence.FindAllStringSubmatch(text, -1) {
			if strings.Contains(strings.ToLower(m[1]), "<html") {
				return m[1]
			}
		}
		return ""
	}},
	{Name: "doctype-document", extract: func(text string) string {
		return doctypeDoc.FindString(text)
	}},
	{Name: "html-element", extract: func(text string) string {
		return htmlElement.FindString(text)
	}},
}

// StrategyNames lists the strategy names in order.
func StrategyNames() []string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = s.Name
	}
	return names
}

// ExtractArtifact returns the first non-empty result and the strategy that produced it.
func ExtractArtifact(text string) (artifact, strategy string, ok bool) {
	for _, s := range Strategies {
		if out := strings.TrimSpace(s.extract(text)); out != "" {
			return out, s.Name, true
		}
	}
	return "", "", false
}
