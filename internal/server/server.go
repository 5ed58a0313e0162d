// Package server exposes the session service over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mudd00/sensorgamehub-sub001/internal/core"
	"github.com/mudd00/sensorgamehub-sub001/internal/event"
	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
	"github.com/mudd00/sensorgamehub-sub001/internal/telemetry"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Server is the HTTP surface. It implements http.Handler.
type Server struct {
	svc      *core.Service
	progress *event.Bus[schema.ProgressEvent]
	monitor  *telemetry.Monitor
	// artifacts is nil unless the gateway can read games back
	artifacts repository.Catalog
	router    chi.Router
}

// New builds the router. progress and monitor may be nil; the matching
// endpoints then answer 404 and an empty snapshot respectively.
func New(svc *core.Service, progress *event.Bus[schema.ProgressEvent], monitor *telemetry.Monitor) *Server {
	s := &Server{svc: svc, progress: progress, monitor: monitor}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	s.RegisterRoutes(r)
	s.router = r
	return s
}

// WithArtifacts enables the artifact read endpoints. Call it before serving.
func (s *Server) WithArtifacts(c repository.Catalog) *Server {
	s.artifacts = c
	return s
}

// RegisterRoutes registers the session API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/telemetry", s.Telemetry)
		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", s.ListArtifacts)
			r.Get("/{id}", s.GetArtifact)
			r.Get("/{id}/play", s.PlayArtifact)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetSession)
				r.Post("/turns", s.SubmitTurn)
				r.Post("/generate", s.Generate)
				r.Post("/restart", s.Restart)
				r.Post("/retry", s.Retry)
				r.Get("/progress", s.Progress)
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
