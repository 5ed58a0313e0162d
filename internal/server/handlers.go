package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mudd00/sensorgamehub-sub001/internal/telemetry"
)

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

type turnRequest struct {
	Text string `json:"text"`
}

// CreateSession starts a session, optionally under a caller-chosen id.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	view, err := s.svc.StartSession(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, view)
}

// GetSession returns the session snapshot.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// SubmitTurn processes one user message.
func (s *Server) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.svc.SubmitTurn(chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Generate confirms the requirements and runs one generation. The run is not
// tied to the request lifetime: a client that disconnects does not cancel it.
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	out, err := s.svc.ConfirmAndGenerate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if out != nil {
			JSON(w, StatusFor(err), map[string]any{"error": err.Error(), "outcome": out})
			return
		}
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Restart resets the session to its first stage.
func (s *Server) Restart(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Restart(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Retry sends a failed session back to confirmation.
func (s *Server) Retry(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Telemetry returns the monitor snapshot.
func (s *Server) Telemetry(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		JSON(w, http.StatusOK, telemetry.Snapshot{Families: map[string]telemetry.FamilyStats{}, Firing: []string{}})
		return
	}
	JSON(w, http.StatusOK, s.monitor.Snapshot())
}
