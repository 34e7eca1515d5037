// Package web serves the status, health and metrics endpoints that keep
// the hosting platform's liveness probe happy.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// StatusMessage is the body of GET /.
const StatusMessage = "AI Prophet Modular is Running"

// Config configures the server.
type Config struct {
	Addr string

	// Health backs /healthz. Nil serves an always-healthy report.
	Health *HealthRegistry

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server is the HTTP side of the process.
type Server struct {
	config Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer builds the routes.
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":7860"
	}
	if config.Health == nil {
		config.Health = NewHealthRegistry(0)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.config.Metrics != nil {
		s.mux.Handle("GET /metrics", s.config.Metrics)
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = CORSMiddleware(s.config.AllowedOrigins)(h)
	h = LoggingMiddleware(s.logger)(h)
	h = RecoverMiddleware(s.logger)(h)
	return h
}

// Run listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.config.Health.CheckAll(r.Context())
	status := http.StatusOK
	if report.Status == ServiceHealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}
