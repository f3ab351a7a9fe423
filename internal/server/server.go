// Package server exposes the bridge as an OpenAI-compatible HTTP API.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/limits"
	"github.com/n0madic/go-claudebridge/internal/models"
	"github.com/n0madic/go-claudebridge/internal/pipe"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Server is the main HTTP server.
type Server struct {
	Config      *config.ServerConfig
	Preferences config.Preferences
	Pipe        *pipe.Pipe
	Catalog     *models.Catalog
	Limits      *limits.Tracker

	handler    http.Handler
	httpServer *http.Server
}

// New creates a server with all routes registered. tracker may be nil, in
// which case /health reports no rate-limit snapshot.
func New(cfg *config.Config, p *pipe.Pipe, tracker *limits.Tracker) *Server {
	s := &Server{
		Config:      &cfg.Server,
		Preferences: cfg.Preferences,
		Pipe:        p,
		Catalog:     models.NewCatalog(cfg.Options.Model),
		Limits:      tracker,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	s.handler = corsMiddleware(authMiddleware(s.Config, verboseMiddleware(s.Config, debugMiddleware(s.Config, mux))))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "Failed to read request body")
		return nil, false
	}
	return body, true
}
