package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

func sampleRun() (*schema.GenerationRun, schema.Requirements) {
	body := "<!DOCTYPE html><html><body>maze</body></html>"
	run := &schema.GenerationRun{
		ID:                "run-1",
		SessionID:         "SES-1",
		Strategy:          "html-fence",
		PromptDigest:      "sha256:abcd",
		ExtractedArtifact: &body,
		Validation:        &schema.ValidationResult{Score: 120, MaxScore: 130, Genre: "maze", IsValid: true},
	}
	req := schema.Requirements{Title: "Marble Quest", Genre: "maze", Mechanics: []string{"tilt"}, Confirmed: true}
	return run, req
}

func TestNewArtifact(t *testing.T) {
	run, req := sampleRun()
	a := NewArtifact("ART-1", run, req)

	assert.Equal(t, "ART-1", a.ID)
	assert.Equal(t, run.Artifact(), string(a.Body))
	assert.Equal(t, "SES-1", a.Metadata.SessionID)
	assert.Equal(t, "run-1", a.Metadata.RunID)
	assert.Equal(t, 120, a.Metadata.Score)
	assert.Equal(t, 130, a.Metadata.MaxScore)
	assert.Equal(t, "maze", a.Metadata.Genre)
	assert.Equal(t, "Marble Quest", a.Metadata.Requirements.Title)
}

func TestFileGateway_StoreAndLoad(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	gw, err := NewFileGateway(root, "http://localhost:8080/games/")
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw.now = func() time.Time { return fixed }

	run, req := sampleRun()
	loc, err := gw.Store(context.Background(), NewArtifact("ART-1", run, req))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "ART-1", BodyFile), loc.Locator)
	assert.Equal(t, "http://localhost:8080/games/ART-1/index.html", loc.PublicURL)

	got, err := gw.Load("ART-1")
	require.NoError(t, err)
	assert.Equal(t, run.Artifact(), string(got.Body))
	assert.Equal(t, "ART-1", got.Metadata.ArtifactID)
	assert.Equal(t, "run-1", got.Metadata.RunID)
	assert.True(t, got.Metadata.StoredAt.Equal(fixed))
	assert.Equal(t, []string{"tilt"}, got.Metadata.Requirements.Mechanics)

	_, err = os.Stat(filepath.Join(root, ".lock"))
	assert.True(t, os.IsNotExist(err), "lock released after store")
}

func TestFileGateway_StoreIsIdempotent(t *testing.T) {
	gw, err := NewFileGateway(t.TempDir(), "")
	require.NoError(t, err)

	run, req := sampleRun()
	a := NewArtifact("ART-1", run, req)
	first, err := gw.Store(context.Background(), a)
	require.NoError(t, err)

	a.Body = []byte("<html>v2</html>")
	second, err := gw.Store(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, second.PublicURL)

	ids, err := gw.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ART-1"}, ids)

	got, err := gw.Load("ART-1")
	require.NoError(t, err)
	assert.Equal(t, "<html>v2</html>", string(got.Body))
}

func TestFileGateway_RejectsBadArtifacts(t *testing.T) {
	gw, err := NewFileGateway(t.TempDir(), "")
	require.NoError(t, err)

	tests := []struct {
		name string
		a    Artifact
	}{
		{name: "missing id", a: Artifact{Body: []byte("x")}},
		{name: "path traversal", a: Artifact{ID: "../escape", Body: []byte("x")}},
		{name: "hidden", a: Artifact{ID: ".lock", Body: []byte("x")}},
		{name: "empty body", a: Artifact{ID: "ART-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Store(context.Background(), tt.a)
			assert.Error(t, err)
		})
	}
}

func TestFileGateway_LockedStoreFails(t *testing.T) {
	root := t.TempDir()
	gw, err := NewFileGateway(root, "")
	require.NoError(t, err)

	held := NewFileLock(filepath.Join(root, ".lock"), "other-writer")
	require.NoError(t, held.Acquire())
	defer func() { _ = held.Release() }()

	run, req := sampleRun()
	_, err = gw.Store(context.Background(), NewArtifact("ART-1", run, req))
	var lockErr *LockError
	assert.ErrorAs(t, err, &lockErr)
}

func TestFileGateway_CanceledContext(t *testing.T) {
	gw, err := NewFileGateway(t.TempDir(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, req := sampleRun()
	_, err = gw.Store(ctx, NewArtifact("ART-1", run, req))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileGateway_LoadMissing(t *testing.T) {
	gw, err := NewFileGateway(t.TempDir(), "")
	require.NoError(t, err)

	_, err = gw.Load("ART-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewFileGateway_RequiresRoot(t *testing.T) {
	_, err := NewFileGateway("", "")
	assert.Error(t, err)
}
