// Package api exposes the telemetry engine over HTTP: browser beacons post
// events and web vitals, dashboards read summaries and analytics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/engine"
	"github.com/ignite/giftscout-telemetry/internal/vitals"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

// NewServer creates a new API server listening on cfg's host and port.
// source may be nil, in which case beacons are fed to the engine directly.
// gatherer may be nil to leave /metrics unmounted.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, source *vitals.BeaconSource, gatherer prometheus.Gatherer) *Server {
	handlers := NewHandlers(eng, source)
	handler := SetupRoutes(handlers, cfg.AllowedOrigins, gatherer)
	return &Server{
		config:   cfg,
		handler:  handler,
		handlers: handlers,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.Port),
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe starts the HTTP server. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
