// Package server exposes the portal over HTTP: chat sessions with assistant
// replies, ticket triage, a live ticket feed, and operational endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/vserve/internal/assistant"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/metrics"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Chats     *chat.Hub
	Tickets   *tickets.Manager
	Assistant assistant.Responder // nil disables /api/chats/messages
	Tokens    *identity.Tokens
	Collector *metrics.Collector
	Health    Pinger // optional
	Logger    *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	chats     *chat.Hub
	tickets   *tickets.Manager
	intake    *assistant.Intake
	tokens    *identity.Tokens
	collector *metrics.Collector
	health    Pinger
	logger    *slog.Logger
	origins   []string
}

// New creates a server. corsOrigins lists the front-end origins allowed to call the API.
func New(d Deps, corsOrigins []string) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := d.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}
	var intake *assistant.Intake
	if d.Assistant != nil {
		intake = assistant.NewIntake(d.Assistant, assistant.WithIntakeLogger(logger))
	}
	return &Server{
		chats:     d.Chats,
		tickets:   d.Tickets,
		intake:    intake,
		tokens:    d.Tokens,
		collector: collector,
		health:    d.Health,
		logger:    logger,
		origins:   corsOrigins,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(MetricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.handleListChats)
			r.Post("/", s.handleCreateChat)
			r.Put("/active", s.handleSetActive)
			r.Post("/messages", s.handleSendMessage)
			r.Patch("/{id}", s.handleRenameChat)
			r.Delete("/{id}", s.handleDeleteChat)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", s.handleListTickets)
			r.Post("/", s.handleFileTicket)
			r.Get("/live", s.handleLiveTickets)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/stats", s.handleTicketStats)
				r.Post("/{id}/approve", s.handleApprove)
				r.Put("/{id}/status", s.handleSetStatus)
				r.Delete("/{id}", s.handleDisapprove)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}
