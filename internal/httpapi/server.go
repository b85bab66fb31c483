// Package httpapi exposes the ingestion core's read-only operational surface:
// liveness and Prometheus metrics scraping. Grounded on the teacher's
// internal/interfaces/http/server.go Server, trimmed to the two routes a
// metrics/ingestion daemon actually needs (no candidates/explain/regime API,
// since those are strategy-layer concerns outside this module's scope).
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig mirrors the teacher's ServerConfig, trimmed to what a
// local-only operational listener needs.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig binds to loopback only, matching the teacher's
// "Local-only by default" stance for its own read-only API.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server serves /healthz and /metrics for a running orchestrator.
type Server struct {
	router *mux.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer builds a Server with metrics collected from reg.
func NewServer(cfg ServerConfig, reg prometheus.Gatherer, log zerolog.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, log: log}

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// Serve blocks until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("httpapi: shutdown error")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
