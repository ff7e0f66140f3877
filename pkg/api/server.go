package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/api/handlers"
)

// Server is the admin HTTP server.
//
// Endpoints:
//   - GET /health: Liveness probe
//   - GET /health/ready: Readiness probe
//   - GET /api/v1/sessions: Active sessions
//   - DELETE /api/v1/sessions/{username}: Graceful disconnect
//
// The server supports graceful shutdown.
type Server struct {
	server       *http.Server
	config       APIConfig
	ready        chan struct{}
	listener     net.Listener
	shutdownOnce sync.Once
}

// NewServer creates a stopped admin server. Call Start to serve.
//
// Defaults are applied here so the server works when created directly (e.g.
// in tests). This is idempotent with the defaults applied during config
// loading.
func NewServer(config APIConfig, runtime handlers.Runtime) *Server {
	config.ApplyDefaults()

	return &Server{
		server: &http.Server{
			Handler:      NewRouter(runtime),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
		ready:  make(chan struct{}),
	}
}

// Start serves until ctx is cancelled or an error occurs. Cancellation
// triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	s.listener = ln
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyAddress, ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// The cancelled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call repeatedly.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
			return
		}
		logger.Info("API server stopped gracefully")
	})
	return shutdownErr
}

// Addr blocks until the server is listening and returns its address.
func (s *Server) Addr() string {
	<-s.ready
	return s.listener.Addr().String()
}

// Port returns the bound port once listening, else the configured port.
func (s *Server) Port() int {
	select {
	case <-s.ready:
		return s.listener.Addr().(*net.TCPAddr).Port
	default:
		return s.config.Port
	}
}
