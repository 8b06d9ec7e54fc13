// Package api exposes the conversational assistant over HTTP.
//
// Endpoints:
//
//	GET    /health                     liveness probe
//	GET    /ready                      readiness probe (pings the database)
//	POST   /api/sessions               create a session
//	GET    /api/sessions               list sessions
//	GET    /api/sessions/{id}          session state
//	DELETE /api/sessions/{id}          discard a session
//	POST   /api/sessions/{id}/messages feed one input to the session
//	GET    /api/sessions/{id}/export   conversation as JSON
//
// Each session owns its own conversation; the model, prompts and retrieval
// store are shared across sessions.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biocypher/biochatter/internal/log"
	"github.com/biocypher/biochatter/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response. Model
	// calls with correction can take well over a minute.
	WriteTimeout = 3 * time.Minute

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ControllerFactory creates a session controller with a fresh conversation.
type ControllerFactory func() (*session.Controller, error)

// Server is the HTTP front end.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health   *HealthHandler
	sessions *SessionHandler
}

// NewServer creates a server with all routes registered. pool may be nil
// when no database is configured; readiness then skips the database check.
func NewServer(factory ControllerFactory, pool *pgxpool.Pool, logger log.Logger) (*Server, error) {
	if factory == nil {
		return nil, errors.New("controller factory is required")
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:      mux,
		logger:   logger.With("component", "api"),
		health:   NewHealthHandler(pool, logger),
		sessions: NewSessionHandler(factory, logger),
	}

	s.health.RegisterRoutes(mux)
	s.sessions.RegisterRoutes(mux)
	return s, nil
}

// Handler returns the HTTP handler with middleware applied, recovery
// outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
