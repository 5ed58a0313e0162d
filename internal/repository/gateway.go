// Package repository stores generated games. Every gateway upserts by artifact id,
// so a retried store with the same id leaves one copy.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// File names inside an artifact directory or key prefix.
const (
	BodyFile         = "index.html"
	MetadataYAMLFile = "metadata.yaml"
	MetadataJSONFile = "metadata.json"
)

// ErrNotFound is returned by Load for unknown artifact ids.
var ErrNotFound = errors.New("artifact not found")

// Metadata describes a stored artifact.
type Metadata struct {
	ArtifactID   string              `json:"artifactId" yaml:"artifact_id"`
	SessionID    string              `json:"sessionId" yaml:"session_id"`
	RunID        string              `json:"runId" yaml:"run_id"`
	Title        string              `json:"title" yaml:"title"`
	Genre        string              `json:"genre,omitempty" yaml:"genre,omitempty"`
	Score        int                 `json:"score" yaml:"score"`
	MaxScore     int                 `json:"maxScore" yaml:"max_score"`
	Strategy     string              `json:"strategy" yaml:"strategy"`
	PromptDigest string              `json:"promptDigest" yaml:"prompt_digest"`
	Requirements schema.Requirements `json:"requirements" yaml:"requirements"`
	StoredAt     time.Time           `json:"storedAt" yaml:"stored_at"`
}

// Artifact is one store request.
type Artifact struct {
	ID       string
	Body     []byte
	Metadata Metadata
}

// Location tells where an artifact ended up.
type Location struct {
	Locator   string `json:"locator"`
	PublicURL string `json:"publicUrl,omitempty"`
}

// Gateway persists artifacts.
type Gateway interface {
	Store(ctx context.Context, a Artifact) (Location, error)
}

// Catalog reads stored artifacts back. FileGateway implements it.
type Catalog interface {
	Load(id string) (*Artifact, error)
	List() ([]string, error)
}

// NewArtifact builds the store request for an accepted run.
func NewArtifact(id string, run *schema.GenerationRun, req schema.Requirements) Artifact {
	meta := Metadata{
		ArtifactID:   id,
		SessionID:    run.SessionID,
		RunID:        run.ID,
		Title:        req.Title,
		Genre:        req.Genre,
		Strategy:     run.Strategy,
		PromptDigest: run.PromptDigest,
		Requirements: req,
	}
	if run.Validation != nil {
		meta.Score = run.Validation.Score
		meta.MaxScore = run.Validation.MaxScore
		if run.Validation.Genre != "" {
			meta.Genre = run.Validation.Genre
		}
	}
	return Artifact{ID: id, Body: []byte(run.Artifact()), Metadata: meta}
}

func checkArtifact(a Artifact) error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("artifact id is required")
	case strings.ContainsAny(a.ID, `/\`) || strings.HasPrefix(a.ID, "."):
		return fmt.Errorf("invalid artifact id %q", a.ID)
	case len(a.Body) == 0:
		return fmt.Errorf("artifact %s has an empty body", a.ID)
	}
	return nil
}

func publicURL(base, path string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + path
}
