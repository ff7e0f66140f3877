package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a server on an ephemeral port and returns its base URL.
func startServer(t *testing.T) string {
	t.Helper()
	srv := NewServer(ServerConfig{Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("metrics server did not stop")
		}
	})

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return "http://127.0.0.1:" + port
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("DisabledRegistryReturns503", func(t *testing.T) {
		require.False(t, IsEnabled())
		base := startServer(t)

		status, body := get(t, base+"/metrics")
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Contains(t, body, "disabled")
	})

	t.Run("EnabledRegistryServesMetrics", func(t *testing.T) {
		InitRegistry()
		InitRegistry()
		require.True(t, IsEnabled())

		base := startServer(t)

		status, body := get(t, base+"/metrics")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "go_goroutines")

		status, _ = get(t, base+"/missing")
		assert.Equal(t, http.StatusNotFound, status)

		status, body = get(t, base+"/")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "/metrics")
	})
}

func TestStopIsIdempotent(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 0})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, srv.Stop(ctx))
	assert.NoError(t, srv.Stop(ctx))
}
