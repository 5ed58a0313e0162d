package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Result is the reference context assembled for one generation.
type Result struct {
	Text      string
	Documents []Document
	Queries   []string
	Fallback  bool
	Err       error
}

// Retriever issues one query per requirement facet and merges the results.
type Retriever struct {
	searcher  Searcher
	topK      int
	threshold float64
}

// NewRetriever builds a retriever. A nil searcher always yields the fallback context.
func NewRetriever(s Searcher, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{searcher: s, topK: topK, threshold: threshold}
}

// Queries returns the per-facet query variants for a requirement snapshot.
func Queries(req *schema.Requirements) []string {
	qs := []string{"SessionSDK session setup createSession connected"}
	if req.Genre != "" {
		qs = append(qs, fmt.Sprintf("%s genre rules", req.Genre))
	}
	if len(req.Mechanics) > 0 {
		qs = append(qs, fmt.Sprintf("sensor-data %s orientation acceleration", strings.Join(req.Mechanics, " ")))
	}
	if req.PlayerMode != "" {
		qs = append(qs, fmt.Sprintf("%s game types gameType", req.PlayerMode))
	}
	if len(req.Objectives) > 0 || req.Difficulty != "" {
		qs = append(qs, fmt.Sprintf("game loop score restart %s %s", strings.Join(req.Objectives, " "), req.Difficulty))
	}
	return qs
}

// Retrieve never fails: on search errors or an empty result the built-in
// reference document is used instead.
func (r *Retriever) Retrieve(ctx context.Context, req *schema.Requirements) Result {
	res := Result{Queries: Queries(req)}
	if r.searcher == nil {
		res.Text, res.Fallback = FallbackContext(), true
		return res
	}

	seen := make(map[string]bool)
	failures := 0
	for _, q := range res.Queries {
		docs, err := r.searcher.Search(ctx, Query{Text: q, TopK: r.topK, Threshold: r.threshold})
		if err != nil {
			failures++
			res.Err = err
			slog.Warn("Reference search failed", "query", q, "error", err)
			continue
		}
		for _, d := range docs {
			if seen[d.Text] {
				continue
			}
			seen[d.Text] = true
			res.Documents = append(res.Documents, d)
		}
	}

	sort.SliceStable(res.Documents, func(i, j int) bool { return res.Documents[i].Score > res.Documents[j].Score })
	if len(res.Documents) > r.topK {
		res.Documents = res.Documents[:r.topK]
	}

	if len(res.Documents) == 0 {
		if failures == len(res.Queries) {
			slog.Warn("All reference searches failed, using built-in context", "failures", failures)
		}
		res.Text, res.Fallback = FallbackContext(), true
		return res
	}

	var b strings.Builder
	for i, d := range res.Documents {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(d.Text))
	}
	res.Text = b.String()
	return res
}
