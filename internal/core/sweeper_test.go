package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

func confirmedSession(t *testing.T, id string, now time.Time) *conversation.Session {
	t.Helper()
	eng, err := conversation.NewEngine()
	require.NoError(t, err)
	s := conversation.NewSession(id, now)
	for _, turn := range conversationTurns {
		_, err := s.SubmitTurn(eng, turn, now)
		require.NoError(t, err)
	}
	require.NoError(t, s.Confirm(now))
	return s
}

func TestSweeper_EvictsIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Insert(conversation.NewSession("SES-old", t0)))
	require.NoError(t, store.Insert(conversation.NewSession("SES-fresh", t0.Add(20*time.Minute))))

	w := NewSweeper(store, nil, 30*time.Minute, 3*time.Minute, time.Minute)
	report := w.Sweep(context.Background(), t0.Add(31*time.Minute))

	assert.Equal(t, 1, report.Evicted)
	assert.Equal(t, 0, report.Archived)
	_, ok := store.Get("SES-old")
	assert.False(t, ok)
	_, ok = store.Get("SES-fresh")
	assert.True(t, ok)
}

func TestSweeper_DefersInFlightSessions(t *testing.T) {
	store := NewMemoryStore()
	s := confirmedSession(t, "SES-busy", t0)
	require.NoError(t, s.BeginGeneration("run-1", t0))
	require.NoError(t, store.Insert(s))

	// Ceiling longer than the idle TTL: the run is not stale yet.
	w := NewSweeper(store, nil, 30*time.Minute, time.Hour, time.Minute)
	report := w.Sweep(context.Background(), t0.Add(31*time.Minute))

	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 0, report.Evicted)
	assert.Equal(t, schema.StageGenerating, s.Stage())
	assert.Equal(t, 1, store.Len())
}

func TestSweeper_AbandonsStaleRuns(t *testing.T) {
	archive, err := NewArchive(":memory:")
	require.NoError(t, err)
	defer archive.Close()

	store := NewMemoryStore()
	s := confirmedSession(t, "SES-stuck", t0)
	require.NoError(t, s.BeginGeneration("run-1", t0))
	require.NoError(t, store.Insert(s))

	w := NewSweeper(store, archive, 30*time.Minute, 3*time.Minute, time.Minute)
	report := w.Sweep(context.Background(), t0.Add(4*time.Minute))

	assert.Equal(t, 1, report.Abandoned)
	assert.Equal(t, 1, report.Archived, "the now failed session is archived")
	assert.Equal(t, schema.StageFailed, s.Stage())
	assert.False(t, s.FinishGeneration("run-1", true, "", t0.Add(5*time.Minute)), "late result is rejected")

	v, err := archive.Load(context.Background(), "SES-stuck")
	require.NoError(t, err)
	assert.Equal(t, schema.StageFailed, v.Stage)
	assert.Contains(t, v.LastError, "ceiling")
}

func TestSweeper_ArchivesOnlyOnChange(t *testing.T) {
	archive, err := NewArchive(":memory:")
	require.NoError(t, err)
	defer archive.Close()

	store := NewMemoryStore()
	s := confirmedSession(t, "SES-done", t0)
	require.NoError(t, s.BeginGeneration("run-1", t0))
	require.True(t, s.FinishGeneration("run-1", true, "", t0))
	require.NoError(t, store.Insert(s))

	w := NewSweeper(store, archive, 30*time.Minute, 3*time.Minute, time.Minute)
	ctx := context.Background()

	assert.Equal(t, 1, w.Sweep(ctx, t0.Add(time.Minute)).Archived)
	assert.Equal(t, 0, w.Sweep(ctx, t0.Add(2*time.Minute)).Archived)

	// Eviction archives the final state before deleting.
	report := w.Sweep(ctx, t0.Add(time.Hour))
	assert.Equal(t, 1, report.Evicted)
	assert.Equal(t, 0, store.Len())

	n, err := archive.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Insert(conversation.NewSession("SES-old", time.Now().Add(-time.Hour))))

	w := NewSweeper(store, nil, time.Minute, time.Minute, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
