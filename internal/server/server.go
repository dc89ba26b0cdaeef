package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/server/handler"
	"github.com/liqguard/liquidator/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates every HTTP handler the operator surface needs.
type Handlers struct {
	Health *handler.HealthHandler
	Ready  *handler.ReadyHandler
	Status *handler.StatusHandler
	Audit  *handler.AuditHandler
}

// Server is the read-only operator HTTP API: liveness, readiness, borrower
// population status, and audit trail. It never accepts a request that
// mutates agent state.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server with every route registered and the middleware
// chain applied: rate limiting, auth, CORS, then request logging.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Ready.Check)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/borrowers", handlers.Status.ListBorrowers)
	mux.HandleFunc("GET /api/borrowers/{address}", handlers.Status.GetBorrower)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)

	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, 60, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
