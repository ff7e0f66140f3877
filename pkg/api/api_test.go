package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/api/handlers"
	"github.com/cin-tie/remote-shell/pkg/session"
)

type fakeRuntime struct {
	mu       sync.Mutex
	sessions map[string]session.Info
	kicked   []string
	reasons  []string
}

func newFakeRuntime(users ...string) *fakeRuntime {
	f := &fakeRuntime{sessions: make(map[string]session.Info)}
	for _, u := range users {
		f.sessions[u] = session.Info{Username: u, Transport: session.TransportTCP}
	}
	return f
}

func (f *fakeRuntime) Stats() handlers.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return handlers.Stats{
		StartedAt:      time.Now().Add(-time.Minute),
		ActiveSessions: len(f.sessions),
		MaxUsers:       50,
		Transports:     []handlers.TransportInfo{{Protocol: "TCP", Port: 8072}},
	}
}

func (f *fakeRuntime) Sessions() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Info
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeRuntime) Kick(_ context.Context, username, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[username]; !ok {
		return handlers.ErrSessionNotFound
	}
	delete(f.sessions, username)
	f.kicked = append(f.kicked, username)
	f.reasons = append(f.reasons, reason)
	return nil
}

func serve(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp Response
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	t.Run("Liveness", func(t *testing.T) {
		w, resp := serve(t, NewRouter(newFakeRuntime()), http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", resp.Status)
		data := resp.Data.(map[string]any)
		assert.Equal(t, handlers.Service, data["service"])
		assert.GreaterOrEqual(t, data["uptime_sec"], float64(59))
	})

	t.Run("ReadyWithTransports", func(t *testing.T) {
		w, resp := serve(t, NewRouter(newFakeRuntime("a")), http.MethodGet, "/health/ready")
		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(1), data["active_sessions"])
	})

	t.Run("NotReadyWithoutRuntime", func(t *testing.T) {
		w, resp := serve(t, NewRouter(nil), http.MethodGet, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "runtime not initialized", resp.Error)
	})

	t.Run("RootRedirects", func(t *testing.T) {
		w, _ := serve(t, NewRouter(nil), http.MethodGet, "/")
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "/health", w.Header().Get("Location"))
	})
}

func TestSessions(t *testing.T) {
	rt := newFakeRuntime("alice", "bob")
	router := NewRouter(rt)

	w, resp := serve(t, router, http.MethodGet, "/api/v1/sessions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 2)

	w, resp = serve(t, router, http.MethodDelete, "/api/v1/sessions/alice?reason=maintenance")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"alice"}, rt.kicked)
	assert.Equal(t, []string{"maintenance"}, rt.reasons)

	w, resp = serve(t, router, http.MethodDelete, "/api/v1/sessions/alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session not found: alice", resp.Error)

	w, _ = serve(t, router, http.MethodDelete, "/api/v1/sessions/bob")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Disconnected by administrator", rt.reasons[1])

	w, resp = serve(t, router, http.MethodGet, "/api/v1/sessions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data)
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(APIConfig{Port: 0}, newFakeRuntime())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotZero(t, srv.Port())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestIsEnabled(t *testing.T) {
	var cfg APIConfig
	assert.True(t, cfg.IsEnabled())
	off := false
	cfg.Enabled = &off
	assert.False(t, cfg.IsEnabled())
}
