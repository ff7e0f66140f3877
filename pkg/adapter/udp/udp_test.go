package udp

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/fragment"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

type countingMetrics struct {
	mu       sync.Mutex
	accepted int
	closed   int
	dropped  map[string]int
}

func (m *countingMetrics) RecordConnectionAccepted() {
	m.mu.Lock()
	m.accepted++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordConnectionClosed() {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordConnectionForceClosed() {}

func (m *countingMetrics) SetActiveConnections(int32) {}

func (m *countingMetrics) RecordMessageRejected(reason string) {
	m.mu.Lock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) droppedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

type testServer struct {
	adapter  *Adapter
	registry *session.Registry
	metrics  *countingMetrics
	dir      string
}

func startServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	dir := t.TempDir()
	registry := session.NewRegistry(0)
	d := dispatcher.New(dispatcher.Config{InitialDirectory: dir}, registry)

	cfg.BindAddress = "127.0.0.1"
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 200 * time.Millisecond
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 200 * time.Millisecond
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 20 * time.Millisecond
	}
	cfg.StopTimeout = 2 * time.Second

	m := &countingMetrics{}
	a := New(cfg, d, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()
	require.NotEmpty(t, a.Addr())

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return &testServer{adapter: a, registry: registry, metrics: m, dir: dir}
}

// testClient is a bare datagram client. Acknowledgements go to its sender,
// fragments to its receiver, everything else to inbox.
type testClient struct {
	conn     *net.UDPConn
	inbox    chan protocol.Message
	sender   *fragment.Sender
	receiver *fragment.Receiver
	done     chan *fragment.Completed

	mu      sync.Mutex
	noAcks  bool
	ignored int
}

func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	raddr, err := net.ResolveUDPAddr("udp", s.adapter.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)

	c := &testClient{
		conn:  conn,
		inbox: make(chan protocol.Message, 16),
		done:  make(chan *fragment.Completed, 1),
	}
	fc := fragment.Config{FragmentSize: 1000, AckTimeout: 200 * time.Millisecond}
	c.sender = fragment.NewSender(fc, fragment.DirectionUpload, func(_ context.Context, _ string, m protocol.Message) error {
		return c.write(m)
	}, nil)
	c.receiver = fragment.NewReceiver(fc, fragment.DirectionDownload, nil)

	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) write(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *testClient) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}

		switch m := msg.(type) {
		case *protocol.FragmentAck:
			c.sender.HandleAck("server", m)
		case *protocol.Fragment:
			c.mu.Lock()
			silent := c.noAcks
			if silent {
				c.ignored++
			}
			c.mu.Unlock()
			if silent {
				continue
			}
			done, err := c.receiver.HandleFragment("server", m)
			_ = c.write(fragment.Ack(m, err))
			if done != nil {
				c.done <- done
			}
		default:
			c.inbox <- msg
		}
	}
}

func (c *testClient) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-c.inbox:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no datagram received")
		return nil
	}
}

func (c *testClient) roundTrip(t *testing.T, m protocol.Message) protocol.Message {
	t.Helper()
	require.NoError(t, c.write(m))
	return c.next(t)
}

func (c *testClient) connect(t *testing.T, user string) *protocol.ConnectResult {
	t.Helper()
	cr := c.roundTrip(t, &protocol.Connect{Username: user, FullName: user}).(*protocol.ConnectResult)
	require.False(t, cr.Failed(), cr.Err())
	return cr
}

func TestCommandSequence(t *testing.T) {
	srv := startServer(t, Config{})
	c := srv.dial(t)

	res := c.roundTrip(t, &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())

	cr := c.connect(t, "alice")
	assert.Equal(t, dispatcher.ServerVersion, cr.ServerVersion)
	assert.Equal(t, 1, srv.registry.Count())

	s, ok := srv.registry.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, session.TransportUDP, s.Transport())

	gr := c.roundTrip(t, &protocol.Getdir{}).(*protocol.GetdirResult)
	assert.Equal(t, cr.CurrentDir, gr.CurrentDir)

	ur := c.roundTrip(t, &protocol.Upload{FileName: "small.txt", Data: []byte("hi")}).(*protocol.UploadResult)
	require.False(t, ur.Failed(), ur.Err())
	assert.Equal(t, int64(2), ur.Size)

	dr := c.roundTrip(t, &protocol.Disconnect{Reason: "bye"})
	assert.False(t, dr.(protocol.Result).Failed())
	assert.Equal(t, 0, srv.registry.Count())

	srv.metrics.mu.Lock()
	assert.Equal(t, 1, srv.metrics.accepted)
	assert.Equal(t, 1, srv.metrics.closed)
	srv.metrics.mu.Unlock()
}

func TestMalformedDatagramDropped(t *testing.T) {
	srv := startServer(t, Config{})
	c := srv.dial(t)

	_, err := c.conn.Write([]byte{0x7f, 0x00, 0x01})
	require.NoError(t, err)

	// The server keeps serving the endpoint afterwards.
	res := c.roundTrip(t, &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())
	assert.Equal(t, 1, srv.metrics.droppedFor("malformed"))
}

func TestResultTagFromClientDropped(t *testing.T) {
	srv := startServer(t, Config{})
	c := srv.dial(t)

	require.NoError(t, c.write(&protocol.GetdirResult{CurrentDir: "/"}))
	res := c.roundTrip(t, &protocol.Getdir{})
	assert.Equal(t, "Not connected", res.(protocol.Result).Err())
	assert.Equal(t, 1, srv.metrics.droppedFor("unexpected"))
}

func TestFragmentWithoutSessionRejected(t *testing.T) {
	srv := startServer(t, Config{})
	c := srv.dial(t)

	err := c.sender.Send(context.Background(), "server", "x_1", protocol.TransferMetadata{FileName: "x"}, []byte("data"))
	require.ErrorIs(t, err, fragment.ErrTransferAborted)
	assert.Contains(t, err.Error(), "rejected")
	assert.NoFileExists(t, filepath.Join(srv.dir, "x"))
}

func TestFragmentedUpload(t *testing.T) {
	srv := startServer(t, Config{})
	c := srv.dial(t)
	c.connect(t, "bob")

	data := bytes.Repeat([]byte("0123456789"), 2500)
	meta := protocol.TransferMetadata{FileName: "big.bin", FileSize: int64(len(data))}
	require.NoError(t, c.sender.Send(context.Background(), "server", fragment.NewTransferID("big.bin"), meta, data))

	ur := c.next(t).(*protocol.UploadResult)
	require.False(t, ur.Failed(), ur.Err())
	assert.Equal(t, int64(len(data)), ur.Size)
	assert.Equal(t, filepath.Join(srv.dir, "big.bin"), ur.AbsolutePath)

	got, err := os.ReadFile(filepath.Join(srv.dir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFragmentedDownload(t *testing.T) {
	srv := startServer(t, Config{FragmentSize: 4000})
	data := bytes.Repeat([]byte{0xAB, 0xCD}, 50000)
	require.NoError(t, os.WriteFile(filepath.Join(srv.dir, "large.bin"), data, 0o644))

	c := srv.dial(t)
	c.connect(t, "carol")
	require.NoError(t, c.write(&protocol.Download{Path: "large.bin", Offset: 100}))

	select {
	case done := <-c.done:
		assert.Equal(t, data[100:], done.Data)
		assert.Equal(t, "large.bin", done.Meta.FileName)
		assert.Equal(t, int64(len(data)), done.Meta.FileSize)
		assert.Equal(t, int64(100), done.Meta.Offset)
		assert.True(t, done.Meta.Partial)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not complete")
	}

	// Small downloads still fit in one result datagram.
	require.NoError(t, os.WriteFile(filepath.Join(srv.dir, "small.txt"), []byte("tiny"), 0o644))
	dr := c.roundTrip(t, &protocol.Download{Path: "small.txt"}).(*protocol.DownloadResult)
	require.False(t, dr.Failed(), dr.Err())
	assert.Equal(t, []byte("tiny"), dr.Data)
}

func TestDownloadAboveFragmentSize(t *testing.T) {
	srv := startServer(t, Config{})
	data := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, os.WriteFile(filepath.Join(srv.dir, "ten.bin"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srv.dir, "edge.bin"), data[:fragment.DefaultFragmentSize], 0o644))

	c := srv.dial(t)
	c.connect(t, "erin")
	require.NoError(t, c.write(&protocol.Download{Path: "ten.bin"}))

	select {
	case done := <-c.done:
		assert.Equal(t, data, done.Data)
		assert.False(t, done.Meta.Partial)
	case m := <-c.inbox:
		t.Fatalf("download arrived as a single %T", m)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not complete")
	}

	// Exactly one fragment worth of data is still answered inline.
	dr := c.roundTrip(t, &protocol.Download{Path: "edge.bin"}).(*protocol.DownloadResult)
	require.False(t, dr.Failed(), dr.Err())
	assert.Equal(t, data[:fragment.DefaultFragmentSize], dr.Data)
}

func TestDownloadAbortedWithoutAcks(t *testing.T) {
	srv := startServer(t, Config{AckTimeout: 50 * time.Millisecond, MaxAttempts: 2})
	require.NoError(t, os.WriteFile(filepath.Join(srv.dir, "large.bin"), make([]byte, 100000), 0o644))

	c := srv.dial(t)
	c.connect(t, "dave")

	c.mu.Lock()
	c.noAcks = true
	c.mu.Unlock()

	require.NoError(t, c.write(&protocol.Download{Path: "large.bin"}))

	dr := c.next(t).(*protocol.DownloadResult)
	assert.True(t, dr.Failed())
	assert.Contains(t, dr.Err(), "Transfer aborted: ")

	c.mu.Lock()
	assert.Equal(t, 2, c.ignored, "first fragment sent once per attempt")
	c.mu.Unlock()
}

func TestIdleSessionEvicted(t *testing.T) {
	srv := startServer(t, Config{SessionIdleTimeout: 100 * time.Millisecond})
	c := srv.dial(t)
	c.connect(t, "erin")

	notice, ok := c.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.Equal(t, "Session idle timeout", notice.Reason)

	assert.Eventually(t, func() bool { return srv.registry.Count() == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.adapter.Endpoints() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGracefulDisconnect(t *testing.T) {
	t.Run("ClientAnswers", func(t *testing.T) {
		srv := startServer(t, Config{GracePeriod: 5 * time.Second})
		c := srv.dial(t)
		c.connect(t, "frank")

		s, ok := srv.registry.Lookup("frank")
		require.True(t, ok)

		finished := make(chan struct{})
		go func() {
			s.GracefulDisconnect(context.Background(), "Server is shutting down")
			close(finished)
		}()

		notice := c.next(t).(*protocol.Disconnect)
		assert.Equal(t, "Server is shutting down", notice.Reason)
		res := c.roundTrip(t, &protocol.Disconnect{Reason: "ok"})
		assert.False(t, res.(protocol.Result).Failed())

		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("graceful disconnect waited out the grace period")
		}
		assert.Equal(t, 0, srv.registry.Count())
	})

	t.Run("ClientSilent", func(t *testing.T) {
		srv := startServer(t, Config{GracePeriod: 100 * time.Millisecond})
		c := srv.dial(t)
		c.connect(t, "grace")

		s, ok := srv.registry.Lookup("grace")
		require.True(t, ok)

		s.GracefulDisconnect(context.Background(), "bye")
		assert.Equal(t, 0, srv.registry.Count())
		assert.Equal(t, 0, srv.adapter.Endpoints())
	})
}

func TestStopBeforeServe(t *testing.T) {
	a := New(Config{BindAddress: "127.0.0.1"}, dispatcher.New(dispatcher.Config{}, session.NewRegistry(0)), nil, nil)
	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, "UDP", a.Protocol())
}

func TestInvalidConfigPanics(t *testing.T) {
	assert.Panics(t, func() {
		New(Config{FragmentSize: 70000}, dispatcher.New(dispatcher.Config{}, session.NewRegistry(0)), nil, nil)
	})
}
