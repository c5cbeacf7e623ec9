// Package web provides the HTTP surface for the import service: multipart
// file uploads, SSE progress streams, and the contact-resolution API. All
// responses are JSON; rendering is the caller's concern.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/commsync/commsync/internal/config"
	"github.com/commsync/commsync/internal/contacts"
	"github.com/commsync/commsync/internal/importer"
)

// Server is the HTTP server for the import service.
type Server struct {
	imports   *importer.Service
	workbench *contacts.Workbench
	cfg       *config.Config
	router    *chi.Mux
	server    *http.Server
}

// NewServer wires routes and middleware around the import service and the
// resolution workbench.
func NewServer(imports *importer.Service, workbench *contacts.Workbench, cfg *config.Config) *Server {
	s := &Server{
		imports:   imports,
		workbench: workbench,
		cfg:       cfg,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/import", s.handleStartImport)
		r.Get("/import/{importID}/progress", s.handleImportProgress)
		r.Get("/import/{importID}/result", s.handleImportResult)
		r.Post("/import/{importID}/cancel", s.handleCancelImport)

		r.Get("/contacts/unmatched", s.handleUnmatched)
		r.Post("/contacts/unmatched/{phone}/create", s.handleCreateAndLink)
		r.Post("/contacts/unmatched/{phone}/link", s.handleLinkExisting)
	})
}

// Start begins listening for HTTP requests. Write timeout stays disabled so
// SSE progress streams are not cut off.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// securityHeaders adds defense headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
