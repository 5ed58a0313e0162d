package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

func sampleView() schema.SessionView {
	return schema.SessionView{
		ID:    "SES-archived",
		Stage: schema.StageFailed,
		Requirements: schema.Requirements{
			Title:      "Marble Quest",
			Genre:      "maze",
			PlayerMode: schema.PlayerSolo,
			Mechanics:  []string{"tilt"},
		},
		History: []schema.Message{
			{Role: schema.RoleUser, Text: "a maze game", Timestamp: t0, Stage: schema.StageInitial},
			{Role: schema.RoleAssistant, Text: "What should it be called?", Timestamp: t0, Stage: schema.StageDetails},
		},
		CompletionScore: 55,
		LastError:       "validation failed: score 40/130",
		CreatedAt:       t0,
		LastActivity:    t0.Add(5 * time.Minute),
	}
}

func TestArchive_SaveLoad(t *testing.T) {
	a, err := NewArchive(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	v := sampleView()
	require.NoError(t, a.Save(ctx, v))

	got, err := a.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Stage, got.Stage)
	assert.Equal(t, v.Requirements, got.Requirements)
	assert.Equal(t, v.LastError, got.LastError)
	assert.Equal(t, v.CompletionScore, got.CompletionScore)
	require.Len(t, got.History, 2)
	assert.Equal(t, "a maze game", got.History[0].Text)
	assert.True(t, got.CreatedAt.Equal(v.CreatedAt))
	assert.True(t, got.LastActivity.Equal(v.LastActivity))
}

func TestArchive_Upsert(t *testing.T) {
	a, err := NewArchive(":memory:")
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	v := sampleView()
	require.NoError(t, a.Save(ctx, v))
	v.Stage = schema.StageCompleted
	v.LastError = ""
	require.NoError(t, a.Save(ctx, v))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StageCompleted, got.Stage)
	assert.Empty(t, got.LastError)
}

func TestArchive_LoadMissing(t *testing.T) {
	a, err := NewArchive(":memory:")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Load(context.Background(), "SES-nope")
	var nf *schema.SessionNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "SES-nope", nf.ID)
}

func TestArchive_FileUsesWAL(t *testing.T) {
	a, err := NewArchive(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer a.Close()

	var mode string
	require.NoError(t, a.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, a.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}
