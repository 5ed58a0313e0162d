package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
	"github.com/mudd00/sensorgamehub-sub001/internal/core"
	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	var (
		notFound  *schema.SessionNotFoundError
		pre       *schema.PreconditionError
		inFlight  *schema.RunInFlightError
		abandoned *schema.RunAbandonedError
		external  *schema.ExternalServiceError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pre), errors.As(err, &inFlight), errors.As(err, &abandoned),
		errors.Is(err, core.ErrSessionExists):
		return http.StatusConflict
	case errors.As(err, &external):
		return http.StatusBadGateway
	case errors.Is(err, conversation.ErrEmptyTurn):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	Error(w, status, err.Error())
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
