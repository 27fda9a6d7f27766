// Package api implements the thin HTTP contract surface of spec §6:
// targets, pipeline triggers, runs, inventory reads, schedules, and the
// WebSocket event feed. The browser UI and LLM chat agent that consume this
// contract are out of scope; this package only needs to make the contract
// itself concrete and testable.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/eventbus"
	"github.com/shadowpulse/reconengine/internal/queue"
	"github.com/shadowpulse/reconengine/internal/store"
)

// Server holds the dependencies every handler needs.
type Server struct {
	store    *store.Store
	q        *queue.Queue
	bus      *eventbus.Bus
	hub      *eventbus.Hub
	validate *validator.Validate
	log      zerolog.Logger
}

// NewServer constructs a Server. Call NewRouter(server) to get the
// http.Handler to mount.
func NewServer(st *store.Store, q *queue.Queue, bus *eventbus.Bus, hub *eventbus.Hub, log zerolog.Logger) *Server {
	return &Server{
		store: st, q: q, bus: bus, hub: hub,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// NewRouter builds the chi router for the §6 HTTP contract, following
// kubernaut's chi + cors wiring (the teacher's own router constructor was
// not present in the retrieval pack, only its handler files).
func NewRouter(s *Server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/targets", func(r chi.Router) {
		r.Post("/", s.handleCreateTarget)
		r.Get("/", s.handleListTargets)
		r.Route("/{targetID}", func(r chi.Router) {
			r.Post("/pipeline", s.handleTriggerPipeline)
			r.Get("/runs", s.handleListRuns)
			r.Get("/assets", s.handleListAssets)
			r.Get("/services", s.handleListServices)
			r.Get("/edges", s.handleListEdges)
			r.Get("/findings", s.handleListFindings)
			r.Get("/scans", s.handleListScans)
			r.Get("/changes", s.handleListChanges)
			r.Post("/schedules", s.handleCreateSchedule)
			r.Get("/schedules", s.handleListSchedules)
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Post("/verify", s.handleTriggerVerify)
			})
		})
	})

	r.Get("/api/runs/{runID}", s.handleGetRun)
	r.Post("/api/runs/{runID}/discard", s.handleDiscardRun)

	r.Get("/ws/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		s.hub.HandleWebSocket(w, r, chi.URLParam(r, "sessionID"))
	})

	return r
}
