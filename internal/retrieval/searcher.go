// Package retrieval assembles reference context for generation prompts from a
// similarity-searchable document store.
package retrieval

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"strings"
)

// Document is a searchable text with its similarity score for a query.
type Document struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Query is a similarity search request.
type Query struct {
	Text      string
	TopK      int
	Threshold float64
}

// Searcher ranks documents for a query. An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

//go:embed corpus/*.md
var corpusFS embed.FS

//go:embed fallback.md
var fallbackDoc string

// FallbackContext is the built-in reference used when retrieval fails or finds nothing.
func FallbackContext() string {
	return fallbackDoc
}

// DefaultCorpus returns the built-in documents used to seed an empty store.
func DefaultCorpus() ([]Document, error) {
	entries, err := fs.ReadDir(corpusFS, "corpus")
	if err != nil {
		return nil, err
	}
	var docs []Document
	for _, e := range entries {
		data, err := corpusFS.ReadFile(path.Join("corpus", e.Name()))
		if err != nil {
			return nil, err
		}
		text := string(data)
		title := strings.TrimSuffix(e.Name(), ".md")
		if first, _, ok := strings.Cut(text, "\n"); ok && strings.HasPrefix(first, "# ") {
			title = strings.TrimPrefix(first, "# ")
		}
		docs = append(docs, Document{ID: strings.TrimSuffix(e.Name(), ".md"), Title: title, Text: text})
	}
	return docs, nil
}
