package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/api/handlers"
	"github.com/cin-tie/remote-shell/pkg/audit"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// fakeAdapter serves until cancelled, or fails immediately with serveErr.
type fakeAdapter struct {
	protocol string
	port     int
	serveErr error

	started chan struct{}
	stopped atomic.Bool
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, started: make(chan struct{})}
}

func (a *fakeAdapter) Serve(ctx context.Context) error {
	close(a.started)
	if a.serveErr != nil {
		return a.serveErr
	}
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) Stop(context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *fakeAdapter) Protocol() string { return a.protocol }
func (a *fakeAdapter) Port() int        { return a.port }

// fakeSession leaves the registry when gracefully disconnected, unless
// stubborn.
type fakeSession struct {
	*session.State
	registry *session.Registry
	stubborn bool

	mu      sync.Mutex
	reasons []string
}

func newFakeSession(t *testing.T, r *session.Registry, username string) *fakeSession {
	t.Helper()
	s := &fakeSession{
		State:    session.NewState(session.Identity{Username: username, FullName: username}, "/"),
		registry: r,
	}
	prev, err := r.Register(username, s)
	require.NoError(t, err)
	require.Nil(t, prev)
	return s
}

func (s *fakeSession) Send(context.Context, protocol.Message) error { return nil }
func (s *fakeSession) Disconnect() error                            { return nil }
func (s *fakeSession) Transport() string                            { return session.TransportTCP }
func (s *fakeSession) RemoteAddr() string                           { return "127.0.0.1:5000" }

func (s *fakeSession) GracefulDisconnect(_ context.Context, reason string) {
	s.mu.Lock()
	s.reasons = append(s.reasons, reason)
	s.mu.Unlock()
	if !s.stubborn {
		s.registry.UnregisterIf(s.Identity().Username, s)
	}
}

func (s *fakeSession) lastReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reasons) == 0 {
		return ""
	}
	return s.reasons[len(s.reasons)-1]
}

func newTestServer(maxUsers int) *Server {
	registry := session.NewRegistry(maxUsers)
	d := dispatcher.New(dispatcher.Config{}, registry)
	srv := New(registry, d)
	srv.SetShutdownTimeout(time.Second)
	srv.SetDrainInterval(10 * time.Millisecond)
	return srv
}

func waitStarted(t *testing.T, a *fakeAdapter) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("adapter %s did not start", a.protocol)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	srv := newTestServer(5)
	tcpAdapter := newFakeAdapter("TCP", 8072)
	rpcAdapter := newFakeAdapter("RPC", 1099)
	require.NoError(t, srv.AddAdapter(tcpAdapter))
	require.NoError(t, srv.AddAdapter(rpcAdapter))

	journal := audit.NewMemoryJournal(10)
	srv.SetJournal(journal)

	alice := newFakeSession(t, srv.Registry(), "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	waitStarted(t, tcpAdapter)
	waitStarted(t, rpcAdapter)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, ShutdownReason, alice.lastReason())
	assert.Zero(t, srv.Registry().Count())
	assert.True(t, tcpAdapter.stopped.Load())
	assert.True(t, rpcAdapter.stopped.Load())
	assert.ErrorIs(t, journal.Record(context.Background(), audit.Event{}), audit.ErrClosed)

	select {
	case <-srv.Stopped():
	default:
		t.Fatal("Stopped channel not closed")
	}
}

func TestServe_AdapterFailureStopsServer(t *testing.T) {
	srv := newTestServer(5)
	broken := newFakeAdapter("UDP", 8072)
	broken.serveErr = errors.New("bind: address already in use")
	healthy := newFakeAdapter("TCP", 8072)
	require.NoError(t, srv.AddAdapter(broken))
	require.NoError(t, srv.AddAdapter(healthy))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address already in use")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after adapter failure")
	}
	assert.True(t, healthy.stopped.Load())
}

func TestServe_OnlyOnce(t *testing.T) {
	srv := newTestServer(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Serve(ctx))

	assert.Error(t, srv.Serve(ctx))
	assert.Panics(t, func() { srv.SetAPIServer(nil) })
	assert.Panics(t, func() { _ = srv.AddAdapter(newFakeAdapter("TCP", 1)) })
}

func TestAddAdapter_Duplicate(t *testing.T) {
	srv := newTestServer(1)

	require.NoError(t, srv.AddAdapter(newFakeAdapter("TCP", 8072)))
	err := srv.AddAdapter(newFakeAdapter("TCP", 9000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestDisconnectAll(t *testing.T) {
	t.Run("Drains", func(t *testing.T) {
		srv := newTestServer(5)
		a := newFakeSession(t, srv.Registry(), "alice")
		b := newFakeSession(t, srv.Registry(), "bob")

		assert.Zero(t, srv.DisconnectAll(time.Second))
		assert.Equal(t, ShutdownReason, a.lastReason())
		assert.Equal(t, ShutdownReason, b.lastReason())
	})

	t.Run("GivesUpAfterTimeout", func(t *testing.T) {
		srv := newTestServer(5)
		newFakeSession(t, srv.Registry(), "alice")
		stuck := newFakeSession(t, srv.Registry(), "bob")
		stuck.stubborn = true

		start := time.Now()
		assert.Equal(t, 1, srv.DisconnectAll(100*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Zero(t, newTestServer(5).DisconnectAll(time.Second))
	})
}

func TestStatsAndSessions(t *testing.T) {
	srv := newTestServer(7)
	require.NoError(t, srv.AddAdapter(newFakeAdapter("TCP", 8072)))
	require.NoError(t, srv.AddAdapter(newFakeAdapter("RPC", 1099)))
	srv.adapters.startAll()
	t.Cleanup(func() { _ = srv.adapters.stopAll() })

	newFakeSession(t, srv.Registry(), "zoe")
	newFakeSession(t, srv.Registry(), "adam")

	stats := srv.Stats()
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 7, stats.MaxUsers)
	assert.EqualValues(t, 2, stats.TotalRegistrations)
	assert.Equal(t, []handlers.TransportInfo{
		{Protocol: "RPC", Port: 1099},
		{Protocol: "TCP", Port: 8072},
	}, stats.Transports)

	infos := srv.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, "adam", infos[0].Username)
	assert.Equal(t, "zoe", infos[1].Username)
	assert.Equal(t, session.TransportTCP, infos[0].Transport)
}

func TestKick(t *testing.T) {
	srv := newTestServer(5)
	alice := newFakeSession(t, srv.Registry(), "alice")

	err := srv.Kick(context.Background(), "nobody", "bye")
	assert.ErrorIs(t, err, handlers.ErrSessionNotFound)

	require.NoError(t, srv.Kick(context.Background(), "alice", "Kicked by operator"))
	assert.Equal(t, "Kicked by operator", alice.lastReason())
	_, ok := srv.Registry().Lookup("alice")
	assert.False(t, ok)
}
