package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/apprentice-engine/internal/config"
	"github.com/terra-clan/apprentice-engine/internal/session"
)

// requestTimeout bounds every non-streaming request. It must outlast a
// full poll-mode milestone generation when callers ask to wait for it.
const requestTimeout = 3 * time.Minute

// Server represents the HTTP API server
type Server struct {
	config  config.ServerConfig
	router  *chi.Mux
	manager session.Manager
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, manager session.Manager) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		timeout := middleware.Timeout(requestTimeout)

		// Company-side catalog
		r.Route("/tasks", func(r chi.Router) {
			r.Use(timeout)
			r.Get("/", s.handleListCatalog)
			r.Post("/", s.handleCreateTask)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.With(timeout).Post("/", s.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.sessionContext)

				// Streaming routes are not subject to the request timeout
				r.Get("/events", s.handleSessionEvents)

				r.Group(func(r chi.Router) {
					r.Use(timeout)

					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleDeleteSession)
					r.Put("/profile", s.handleSetProfile)
					r.Get("/tasks", s.handleListSessionTasks)
					r.Post("/select", s.handleSelectTask)
					r.Post("/catalog", s.handleReturnToCatalog)
					r.Post("/milestones/regenerate", s.handleRegenerate)
					r.Post("/milestones/{milestoneId}/review", s.handleSubmitMilestone)
					r.Post("/final", s.handleSubmitFinal)
					r.Post("/company", s.handleForwardToCompany)
				})
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
