// Package server assembles the HTTP surface: routing, middleware and the
// error contract shared by every endpoint.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/geoplex/procjobs/internal/errors"
	"github.com/geoplex/procjobs/internal/server/handlers"
	"github.com/geoplex/procjobs/internal/server/middleware"
)

// Server binds the router to a host and port.
type Server struct {
	host   string
	port   int
	router chi.Router
}

// New builds a Server with the standard middleware chain and error
// handlers. h may be nil, in which case only health and version routes
// are mounted; tests use that form to exercise the error contract.
func New(host string, port int, h *handlers.Handlers, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestLogger(log))
	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.Health)
	r.Get("/version", handlers.VersionInfo)

	if h != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Delete("/", h.DismissJob)
				r.Get("/logs", h.GetJobLogs)
				r.Get("/results", h.GetJobResults)
				r.Get("/exceptions", h.GetJobExceptions)
			})
		})
		r.Route("/processes/{processID}", func(r chi.Router) {
			r.Get("/jobs", h.ListProcessJobs)
			r.Post("/execution", h.ExecuteProcess)
		})
		r.Get("/providers/{providerID}/jobs", h.ListProviderJobs)
	}

	return &Server{host: host, port: port, router: r}
}

// Handler returns the root handler for serving or for test harnesses.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the host:port listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}
