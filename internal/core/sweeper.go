package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Abandoned int
	Evicted   int
	Deferred  int
	Archived  int
}

// Sweeper expires idle sessions, fails runs stuck past the generation ceiling and
// archives sessions that reached a terminal stage.
type Sweeper struct {
	store    Store
	archive  *Archive
	idleTTL  time.Duration
	ceiling  time.Duration
	interval time.Duration

	// archived remembers the last activity written per session so unchanged
	// sessions are not rewritten every tick.
	archived map[string]time.Time
}

// NewSweeper builds a sweeper. archive may be nil.
func NewSweeper(store Store, archive *Archive, idleTTL, ceiling, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		archive:  archive,
		idleTTL:  idleTTL,
		ceiling:  ceiling,
		interval: interval,
		archived: make(map[string]time.Time),
	}
}

// Run sweeps on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", w.interval, "idle_ttl", w.idleTTL, "ceiling", w.ceiling)

	for {
		select {
		case now := <-ticker.C:
			w.Sweep(ctx, now)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Sweep performs one pass. Sessions are collected first and deleted afterward.
func (w *Sweeper) Sweep(ctx context.Context, now time.Time) SweepReport {
	var (
		report  SweepReport
		expired []*conversation.Session
		done    []*conversation.Session
	)

	w.store.Range(func(s *conversation.Session) bool {
		if runID, ok := s.AbandonIfStale(now, w.ceiling); ok {
			report.Abandoned++
			slog.Warn("Abandoned stale generation run", "session_id", s.ID(), "run_id", runID)
		}
		if now.Sub(s.LastActivity()) > w.idleTTL {
			if s.InFlight() {
				report.Deferred++
				return true
			}
			expired = append(expired, s)
			return true
		}
		if s.Stage().Terminal() {
			done = append(done, s)
		}
		return true
	})

	for _, s := range append(done, expired...) {
		if w.save(ctx, s) {
			report.Archived++
		}
	}
	for _, s := range expired {
		if w.store.Delete(s.ID()) {
			delete(w.archived, s.ID())
			report.Evicted++
		}
	}

	if report != (SweepReport{}) {
		slog.Info("Session sweep finished",
			"abandoned", report.Abandoned,
			"evicted", report.Evicted,
			"deferred", report.Deferred,
			"archived", report.Archived,
			"remaining", w.store.Len(),
		)
	}
	return report
}

func (w *Sweeper) save(ctx context.Context, s *conversation.Session) bool {
	if w.archive == nil {
		return false
	}
	view := s.View()
	if last, ok := w.archived[view.ID]; ok && last.Equal(view.LastActivity) {
		return false
	}
	if err := w.archive.Save(ctx, view); err != nil {
		slog.Error("Failed to archive session", "session_id", view.ID, "error", err)
		return false
	}
	w.archived[view.ID] = view.LastActivity
	return true
}
