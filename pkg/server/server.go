// Package server ties the shared pieces of rshd together: the session
// registry, the command dispatcher, the transports, the admin API and the
// metrics endpoint.
//
// Shutdown is ordered: every connected user first receives a Disconnect
// notice, the server then waits (bounded) for the registry to drain, and only
// then are the transports stopped.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter"
	"github.com/cin-tie/remote-shell/pkg/api/handlers"
	"github.com/cin-tie/remote-shell/pkg/audit"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/session"
)

const (
	// DefaultShutdownTimeout bounds the wait for users to disconnect.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultDrainInterval is how often the registry is polled while
	// waiting for users to disconnect.
	DefaultDrainInterval = 100 * time.Millisecond

	// ShutdownReason is sent to every client when the server stops.
	ShutdownReason = "Server shutting down"

	auxStopTimeout = 5 * time.Second
)

// AuxiliaryServer is an HTTP server (admin API, metrics) managed alongside
// the transports.
type AuxiliaryServer interface {
	// Start serves and blocks until ctx is cancelled or the server fails.
	Start(ctx context.Context) error
	// Stop initiates graceful shutdown.
	Stop(ctx context.Context) error
	// Port returns the TCP port the server is listening on.
	Port() int
}

// Server is the running rshd instance.
type Server struct {
	registry   *session.Registry
	dispatcher *dispatcher.Dispatcher
	journal    audit.Journal

	adapters      *adapterSet
	apiServer     AuxiliaryServer
	metricsServer AuxiliaryServer

	shutdownTimeout time.Duration
	drainInterval   time.Duration
	startedAt       time.Time

	mu        sync.Mutex
	serveOnce sync.Once
	served    bool
	stopped   chan struct{}
}

// New creates a stopped server around the shared registry and dispatcher.
func New(registry *session.Registry, d *dispatcher.Dispatcher) *Server {
	return &Server{
		registry:        registry,
		dispatcher:      d,
		adapters:        newAdapterSet(DefaultShutdownTimeout),
		shutdownTimeout: DefaultShutdownTimeout,
		drainInterval:   DefaultDrainInterval,
		startedAt:       time.Now(),
		stopped:         make(chan struct{}),
	}
}

func (s *Server) mustNotBeServing(what string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.served {
		panic(fmt.Sprintf("cannot set %s after Serve() has been called", what))
	}
}

// SetShutdownTimeout sets how long shutdown waits for users to disconnect,
// and how long each transport may take to stop.
func (s *Server) SetShutdownTimeout(d time.Duration) {
	s.mustNotBeServing("shutdown timeout")
	if d <= 0 {
		d = DefaultShutdownTimeout
	}
	s.shutdownTimeout = d
	s.adapters.shutdownTimeout = d
}

// SetDrainInterval sets how often shutdown polls the registry.
func (s *Server) SetDrainInterval(d time.Duration) {
	s.mustNotBeServing("drain interval")
	if d <= 0 {
		d = DefaultDrainInterval
	}
	s.drainInterval = d
}

// SetJournal hands the audit journal to the server, which closes it on
// shutdown.
func (s *Server) SetJournal(j audit.Journal) {
	s.mustNotBeServing("journal")
	s.journal = j
}

// SetAPIServer sets the admin API server.
func (s *Server) SetAPIServer(server AuxiliaryServer) {
	s.mustNotBeServing("API server")
	s.apiServer = server
}

// SetMetricsServer sets the Prometheus metrics server.
func (s *Server) SetMetricsServer(server AuxiliaryServer) {
	s.mustNotBeServing("metrics server")
	s.metricsServer = server
}

// AddAdapter registers a transport. Transports start when Serve is called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	s.mustNotBeServing("adapter")
	return s.adapters.add(a)
}

// Registry returns the shared session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Dispatcher returns the shared command dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Stopped is closed once Serve has finished shutting down.
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

// Serve starts every transport and auxiliary server and blocks until ctx is
// cancelled or one of them fails. It returns nil after a requested shutdown.
func (s *Server) Serve(ctx context.Context) error {
	err := errors.New("server already served")

	s.serveOnce.Do(func() {
		s.mu.Lock()
		s.served = true
		s.mu.Unlock()

		err = s.serve(ctx)
		close(s.stopped)
	})

	return err
}

func (s *Server) serve(ctx context.Context) error {
	dcfg := s.dispatcher.Config()
	logger.Info("Starting remote shell server",
		"max_users", s.registry.MaxUsers(),
		"auth", dcfg.AuthEnabled())

	// 1. Transports
	s.adapters.startAll()

	// 2. Admin API and metrics
	auxCtx, cancelAux := context.WithCancel(context.Background())
	defer cancelAux()

	auxErr := make(chan error, 2)
	for name, aux := range map[string]AuxiliaryServer{"API": s.apiServer, "metrics": s.metricsServer} {
		if aux == nil {
			continue
		}
		go func(name string, aux AuxiliaryServer) {
			if err := aux.Start(auxCtx); err != nil {
				logger.Error(name+" server error", logger.Err(err))
				auxErr <- fmt.Errorf("%s server: %w", name, err)
			}
		}(name, aux)
	}

	// 3. Wait for shutdown or failure
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
	case err := <-s.adapters.failed:
		logger.Error("Transport failed - initiating shutdown", logger.Err(err))
		serveErr = err
	case err := <-auxErr:
		logger.Error("Auxiliary server failed - initiating shutdown", logger.Err(err))
		serveErr = err
	}

	// 4. Graceful shutdown
	s.shutdown()

	logger.Info("Remote shell server stopped")
	return serveErr
}

// shutdown disconnects users, stops the transports, then the auxiliary
// servers, then closes the journal.
func (s *Server) shutdown() {
	remaining := s.DisconnectAll(s.shutdownTimeout)
	if remaining > 0 {
		logger.Warn("Forcefully disconnecting remaining users", logger.KeyActive, remaining)
	}

	logger.Info("Stopping all adapters")
	if err := s.adapters.stopAll(); err != nil {
		logger.Warn("Error stopping adapters", logger.Err(err))
	}

	for name, aux := range map[string]AuxiliaryServer{"API": s.apiServer, "metrics": s.metricsServer} {
		if aux == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), auxStopTimeout)
		if err := aux.Stop(ctx); err != nil {
			logger.Error(name+" server shutdown error", logger.Err(err))
		}
		cancel()
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logger.Warn("Error closing audit journal", logger.Err(err))
		}
	}
}

// DisconnectAll sends a graceful Disconnect to every session and polls the
// registry until it is empty or timeout expires. It returns the number of
// sessions still registered.
func (s *Server) DisconnectAll(timeout time.Duration) int {
	sessions := s.registry.Sessions()
	if len(sessions) == 0 {
		return 0
	}

	logger.Info("Disconnecting all users", logger.KeyActive, len(sessions))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.GracefulDisconnect(ctx, ShutdownReason)
		}()
	}
	wg.Wait()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		n := s.registry.Count()
		if n == 0 {
			return 0
		}
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C:
			logger.Debug("Waiting for users to disconnect", logger.KeyActive, n)
		}
	}
}

// Stats implements handlers.Runtime.
func (s *Server) Stats() handlers.Stats {
	ports := s.adapters.ports()
	transports := make([]handlers.TransportInfo, 0, len(ports))
	for name, port := range ports {
		transports = append(transports, handlers.TransportInfo{Protocol: name, Port: port})
	}
	sort.Slice(transports, func(i, j int) bool {
		return transports[i].Protocol < transports[j].Protocol
	})

	return handlers.Stats{
		StartedAt:          s.startedAt,
		ActiveSessions:     s.registry.Count(),
		MaxUsers:           s.registry.MaxUsers(),
		TotalRegistrations: s.registry.TotalRegistrations(),
		Transports:         transports,
	}
}

// Sessions implements handlers.Runtime. Sessions are sorted by username.
func (s *Server) Sessions() []session.Info {
	sessions := s.registry.Sessions()
	out := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, session.Describe(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Kick implements handlers.Runtime: it gracefully disconnects username.
func (s *Server) Kick(ctx context.Context, username, reason string) error {
	sess, ok := s.registry.Lookup(username)
	if !ok {
		return handlers.ErrSessionNotFound
	}

	logger.Info("Disconnecting user", logger.KeyUsername, username, logger.KeyReason, reason)
	sess.GracefulDisconnect(ctx, reason)
	return nil
}

var _ handlers.Runtime = (*Server)(nil)
