// Package server exposes the HTTP API: event queries, live streaming,
// capture endpoints, and LLM-backed summarization and matching.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/digest"
	"github.com/ihavespoons/codewatch/internal/hub"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/logger"
	"github.com/ihavespoons/codewatch/internal/match"
	"github.com/ihavespoons/codewatch/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	lifecycle  *Lifecycle
	port       int
}

// New creates the server with all routes registered.
func New(cfg *config.Config, s store.Store, h *hub.Hub, d *digest.Builder, m *match.Matcher, p llm.Provider, version string) *Server {
	handlers := NewHandlers(s, h, d, m, p, cfg, version)

	port := cfg.Server.Port
	if port == 0 {
		port = 4381
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.Server.CORSEnabled {
		r.Use(corsMiddleware(cfg.Server.CORSOrigins))
	}

	r.Get("/health", handlers.Health)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", handlers.Events)
		r.Get("/stream", handlers.Stream)
		r.Get("/export", handlers.ExportEvents)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", handlers.Projects)
		r.Post("/", handlers.CreateProject)
		r.Get("/{id}", handlers.GetProject)
		r.Delete("/{id}", handlers.DeleteProject)
		r.Get("/{id}/config", handlers.ProjectConfig)
		r.Put("/{id}/config", handlers.UpdateProjectConfig)
	})

	r.Post("/prompt", handlers.Prompt)
	r.Post("/copilot", handlers.Copilot)
	r.Post("/error", handlers.RecordError)

	r.Route("/summary", func(r chi.Router) {
		r.Post("/run", handlers.RunSummary)
		r.Get("/latest", handlers.LatestSummary)
	})

	r.Post("/analyze-change", handlers.AnalyzeChange)
	r.Post("/implications", handlers.Implications)

	r.Route("/ai-chat", func(r chi.Router) {
		r.Get("/", handlers.Conversations)
		r.Post("/", handlers.CreateConversation)
		r.Get("/stats", handlers.ConversationStats)
		r.Get("/{id}", handlers.ConversationDetail)
		r.Get("/{id}/timeline", handlers.ConversationTimeline)
		r.Post("/{id}/match", handlers.MatchConversation)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handlers:  handlers,
		lifecycle: NewLifecycle(port),
		port:      port,
	}
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Port returns the server port
func (s *Server) Port() int {
	return s.port
}

// Lifecycle returns the PID-file manager
func (s *Server) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.lifecycle.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = s.lifecycle.RemovePID() }()

	logger.Info().
		Int("port", s.port).
		Str("url", fmt.Sprintf("http://127.0.0.1:%d", s.port)).
		Msg("Starting codewatch API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Stopping codewatch API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := "*"
	if len(origins) > 0 {
		allowed = strings.Join(origins, ", ")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
