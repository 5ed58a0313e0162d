package retrieval

import (
	"math"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "to": true, "of": true, "in": true,
	"on": true, "for": true, "with": true, "is": true, "it": true, "be": true, "by": true,
	"or": true, "as": true, "at": true, "game": true,
}

// termVector counts lowercase word terms, skipping stopwords and single letters.
func termVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len(w) < 2 || stopwords[w] {
			continue
		}
		vec[w]++
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, x := range a {
		na += x * x
		if y, ok := b[t]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
