package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileGateway stores artifacts as <root>/<id>/index.html plus metadata.yaml.
type FileGateway struct {
	root       string
	publicBase string
	owner      string
	now        func() time.Time
}

// NewFileGateway creates a gateway rooted at root. publicBase, when set, is the
// URL prefix under which root is served.
func NewFileGateway(root, publicBase string) (*FileGateway, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FileGateway{root: root, publicBase: publicBase, owner: "sensorhub", now: time.Now}, nil
}

// Root returns the storage directory.
func (g *FileGateway) Root() string {
	return g.root
}

// Store writes the artifact under the store lock. An existing artifact with the
// same id is replaced as a whole.
func (g *FileGateway) Store(ctx context.Context, a Artifact) (Location, error) {
	if err := checkArtifact(a); err != nil {
		return Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	lock := NewFileLock(filepath.Join(g.root, ".lock"), g.owner)
	if err := lock.Acquire(); err != nil {
		return Location{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release artifact lock", "error", err)
		}
	}()

	a.Metadata.ArtifactID = a.ID
	if a.Metadata.StoredAt.IsZero() {
		a.Metadata.StoredAt = g.now().UTC()
	}
	meta, err := yaml.Marshal(a.Metadata)
	if err != nil {
		return Location{}, fmt.Errorf("marshal metadata: %w", err)
	}

	dir := filepath.Join(g.root, a.ID)
	tx := NewDirTx(dir)
	if err := tx.Begin(); err != nil {
		return Location{}, fmt.Errorf("begin transaction: %w", err)
	}
	rollback := func(cause error) error {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", cause, rbErr)
		}
		return cause
	}
	if err := tx.WriteFile(BodyFile, a.Body); err != nil {
		return Location{}, rollback(err)
	}
	if err := tx.WriteFile(MetadataYAMLFile, meta); err != nil {
		return Location{}, rollback(err)
	}
	if err := tx.Commit(); err != nil {
		return Location{}, rollback(err)
	}

	loc := Location{
		Locator:   filepath.Join(dir, BodyFile),
		PublicURL: publicURL(g.publicBase, a.ID+"/"+BodyFile),
	}
	slog.Info("Artifact stored", "artifact_id", a.ID, "session_id", a.Metadata.SessionID, "bytes", len(a.Body), "locator", loc.Locator)
	return loc, nil
}

// Load reads a stored artifact back.
func (g *FileGateway) Load(id string) (*Artifact, error) {
	if err := checkArtifact(Artifact{ID: id, Body: []byte{0}}); err != nil {
		return nil, err
	}
	dir := filepath.Join(g.root, id)
	body, err := os.ReadFile(filepath.Join(dir, BodyFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, MetadataYAMLFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &Artifact{ID: id, Body: body, Metadata: meta}, nil
}

// List returns the stored artifact ids.
func (g *FileGateway) List() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
