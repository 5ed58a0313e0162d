package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

const progressWriteTimeout = 5 * time.Second

// Progress upgrades to a WebSocket and streams the session's progress events as
// JSON text messages until the client goes away.
func (s *Server) Progress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.progress == nil {
		Error(w, http.StatusNotFound, "progress stream disabled")
		return
	}

	events, cancel := s.progress.Subscribe()
	defer cancel()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", id)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", id)
		}
	}()
	slog.Info("Progress stream opened", "session_id", id)

	// CloseRead discards client frames and cancels ctx once the peer closes.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Progress stream closed", "session_id", id, "reason", ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SessionID != id {
				continue
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				slog.Debug("Progress write failed", "session_id", id, "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, ev schema.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, progressWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
