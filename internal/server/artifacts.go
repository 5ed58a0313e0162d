package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
)

// ListArtifacts returns the ids of the stored games.
func (s *Server) ListArtifacts(w http.ResponseWriter, _ *http.Request) {
	if s.artifacts == nil {
		Error(w, http.StatusNotFound, "artifact listing is not available")
		return
	}
	ids, err := s.artifacts.List()
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"artifacts": ids})
}

// GetArtifact returns the metadata of one stored game.
func (s *Server) GetArtifact(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadArtifact(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, a.Metadata)
}

// PlayArtifact serves the stored game document.
func (s *Server) PlayArtifact(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadArtifact(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Body); err != nil {
		slog.Warn("Failed to write artifact", "artifact_id", a.ID, "error", err)
	}
}

func (s *Server) loadArtifact(w http.ResponseWriter, r *http.Request) (*repository.Artifact, bool) {
	if s.artifacts == nil {
		Error(w, http.StatusNotFound, "artifact lookup is not available")
		return nil, false
	}
	a, err := s.artifacts.Load(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return a, true
}
