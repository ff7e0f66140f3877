package rpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

type testServer struct {
	adapter  *Adapter
	registry *session.Registry
	metrics  *countingMetrics
	base     string
}

type countingMetrics struct {
	mu       sync.Mutex
	rejected map[string]int
}

func (m *countingMetrics) RecordConnectionAccepted()    {}
func (m *countingMetrics) RecordConnectionClosed()      {}
func (m *countingMetrics) RecordConnectionForceClosed() {}
func (m *countingMetrics) SetActiveConnections(int32)   {}

func (m *countingMetrics) RecordMessageRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejected == nil {
		m.rejected = make(map[string]int)
	}
	m.rejected[reason]++
}

func (m *countingMetrics) rejectedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}

func startServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	registry := session.NewRegistry(0)
	d := dispatcher.New(dispatcher.Config{InitialDirectory: t.TempDir()}, registry)

	cfg.BindAddress = "127.0.0.1"
	m := &countingMetrics{}
	a := New(cfg, d, m)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()
	base := "http://" + a.Addr()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return &testServer{adapter: a, registry: registry, metrics: m, base: base}
}

// call posts m with token and returns the decoded result and any notices.
func (s *testServer) call(t *testing.T, token string, m protocol.Message) (protocol.Message, []protocol.Message) {
	t.Helper()
	body, err := protocol.Encode(m)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.base+CallPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set(HeaderSessionToken, token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	res, err := protocol.Decode(data)
	require.NoError(t, err)

	var notices []protocol.Message
	for _, v := range resp.Header.Values(HeaderSessionNotice) {
		n, err := DecodeNotice(v)
		require.NoError(t, err)
		notices = append(notices, n)
	}
	return res, notices
}

func (s *testServer) post(t *testing.T, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.base+CallPath, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(HeaderSessionToken, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPing(t *testing.T) {
	srv := startServer(t, Config{})

	resp, err := http.Get(srv.base + PingPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong\n", string(body))
}

func TestBadRequests(t *testing.T) {
	srv := startServer(t, Config{})
	getdir, err := protocol.Encode(&protocol.Getdir{})
	require.NoError(t, err)
	result, err := protocol.Encode(&protocol.GetdirResult{CurrentDir: "/"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		body   []byte
		status int
	}{
		{"MissingToken", "", getdir, http.StatusBadRequest},
		{"EmptyBody", "t1", nil, http.StatusBadRequest},
		{"UnknownTag", "t1", []byte{0x7f}, http.StatusBadRequest},
		{"ResultInsteadOfCommand", "t1", result, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.post(t, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, 0, srv.registry.Count())
	// Every body that reached the decoder counts as a rejected message.
	assert.Equal(t, 3, srv.metrics.rejectedFor("malformed"))
}

func TestCommandSequence(t *testing.T) {
	srv := startServer(t, Config{})

	res, _ := srv.call(t, "tok-a", &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())

	res, _ = srv.call(t, "tok-a", &protocol.Connect{Username: "alice", FullName: "Alice"})
	cr := res.(*protocol.ConnectResult)
	require.False(t, cr.Failed(), cr.Err())
	assert.Equal(t, dispatcher.ServerVersion, cr.ServerVersion)

	s, ok := srv.registry.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, session.TransportRPC, s.Transport())

	res, _ = srv.call(t, "tok-a", &protocol.Chdir{NewDir: ".."})
	chr := res.(*protocol.ChdirResult)
	require.False(t, chr.Failed(), chr.Err())

	res, _ = srv.call(t, "tok-a", &protocol.Getdir{})
	assert.Equal(t, chr.NewDir, res.(*protocol.GetdirResult).CurrentDir)

	// Another token is another peer.
	res, _ = srv.call(t, "tok-b", &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())
	res, _ = srv.call(t, "tok-b", &protocol.Connect{Username: "alice"})
	assert.Equal(t, "User already connected: alice", res.(protocol.Result).Err())

	res, _ = srv.call(t, "tok-a", &protocol.Disconnect{Reason: "bye"})
	assert.False(t, res.(protocol.Result).Failed())
	assert.Equal(t, 0, srv.registry.Count())

	assert.Equal(t, 1, srv.adapter.Callers(), "only tok-b remains")
}

func TestGracefulDisconnectNotice(t *testing.T) {
	srv := startServer(t, Config{GracePeriod: 5 * time.Second})

	res, _ := srv.call(t, "tok", &protocol.Connect{Username: "bob"})
	require.False(t, res.(protocol.Result).Failed())

	s, ok := srv.registry.Lookup("bob")
	require.True(t, ok)

	finished := make(chan struct{})
	go func() {
		s.GracefulDisconnect(context.Background(), "Server is shutting down")
		close(finished)
	}()

	var notices []protocol.Message
	for i := 0; i < 100 && len(notices) == 0; i++ {
		_, notices = srv.call(t, "tok", &protocol.Getdir{})
		if len(notices) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	require.Len(t, notices, 1)
	assert.Equal(t, "Server is shutting down", notices[0].(*protocol.Disconnect).Reason)

	res, _ = srv.call(t, "tok", &protocol.Disconnect{Reason: "ok"})
	assert.False(t, res.(protocol.Result).Failed())

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("graceful disconnect waited out the grace period")
	}
	assert.Equal(t, 0, srv.registry.Count())
}

func TestGracefulDisconnectSilentClient(t *testing.T) {
	srv := startServer(t, Config{GracePeriod: 50 * time.Millisecond})

	res, _ := srv.call(t, "tok", &protocol.Connect{Username: "carol"})
	require.False(t, res.(protocol.Result).Failed())

	s, ok := srv.registry.Lookup("carol")
	require.True(t, ok)
	s.GracefulDisconnect(context.Background(), "kicked")

	assert.Equal(t, 0, srv.registry.Count())
	assert.Equal(t, 0, srv.adapter.Callers())

	res, _ = srv.call(t, "tok", &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())
}

func TestSweep(t *testing.T) {
	srv := startServer(t, Config{SessionIdleTimeout: time.Minute, SweepInterval: time.Hour})

	res, _ := srv.call(t, "idle", &protocol.Connect{Username: "dave"})
	require.False(t, res.(protocol.Result).Failed())
	res, _ = srv.call(t, "anon", &protocol.Getdir{})
	require.True(t, res.(protocol.Result).Failed())
	require.Equal(t, 2, srv.adapter.Callers())

	assert.Equal(t, 0, srv.adapter.sweep(time.Now()))
	assert.Equal(t, 2, srv.adapter.Callers())

	assert.Equal(t, 1, srv.adapter.sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, srv.adapter.Callers())
	assert.Equal(t, 0, srv.registry.Count())
}

func TestStopBeforeServe(t *testing.T) {
	a := New(Config{}, dispatcher.New(dispatcher.Config{}, session.NewRegistry(0)), nil)
	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Serve(context.Background()))
	assert.Equal(t, "RPC", a.Protocol())
}
