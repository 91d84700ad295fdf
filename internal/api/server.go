// Package api exposes the local operator HTTP surface over the
// Supervisor: list managed agents, start/stop one by user id, and read
// a single agent's status. It is not internet-facing; it is meant to
// be reached from the same host or an internal network.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyarb/agent/internal/config"
)

// Server runs the operator HTTP API.
type Server struct {
	cfg      config.PlatformAPIConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the operator API server over sup.
func NewServer(cfg config.PlatformAPIConfig, sup SupervisorView, logger *slog.Logger) *Server {
	handlers := NewHandlers(sup, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/agents", handlers.HandleListAgents)
	mux.HandleFunc("/agents/", handlers.HandleAgentAction)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until the server is stopped or fails.
func (s *Server) Start() error {
	s.logger.Info("operator api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("operator api stopping")
	return s.server.Shutdown(ctx)
}
