package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
)

// Server wraps the HTTP server for the delivery subsystem.
type Server struct {
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer creates the server with all routes wired.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	router := SetupRoutes(h)
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
