package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/adapter"
	"github.com/cin-tie/remote-shell/pkg/adapter/rpc"
	"github.com/cin-tie/remote-shell/pkg/adapter/tcp"
	"github.com/cin-tie/remote-shell/pkg/adapter/udp"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

type testServer struct {
	registry *session.Registry
	dir      string
	addr     string
}

type addrAdapter interface {
	adapter.Adapter
	Addr() string
}

// startServer runs one transport on a loopback ephemeral port.
func startServer(t *testing.T, transport string) *testServer {
	t.Helper()
	dir := t.TempDir()
	registry := session.NewRegistry(0)
	d := dispatcher.New(dispatcher.Config{InitialDirectory: dir}, registry)

	var a addrAdapter
	switch transport {
	case session.TransportTCP:
		a = tcp.New(tcp.Config{
			BindAddress:     "127.0.0.1",
			PollInterval:    50 * time.Millisecond,
			GracePeriod:     2 * time.Second,
			ShutdownTimeout: time.Second,
		}, d, nil)
	case session.TransportUDP:
		a = udp.New(udp.Config{
			BindAddress:   "127.0.0.1",
			PollInterval:  50 * time.Millisecond,
			GracePeriod:   2 * time.Second,
			AckTimeout:    200 * time.Millisecond,
			SweepInterval: 20 * time.Millisecond,
			StopTimeout:   2 * time.Second,
		}, d, nil, nil)
	case session.TransportRPC:
		a = rpc.New(rpc.Config{
			BindAddress: "127.0.0.1",
			GracePeriod: 5 * time.Second,
		}, d, nil)
	default:
		t.Fatalf("unknown transport %q", transport)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	addr := a.Addr()
	require.NotEmpty(t, addr)

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return &testServer{registry: registry, dir: dir, addr: addr}
}

func (s *testServer) dial(t *testing.T, transport string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{Transport: transport, Host: host, Port: port, RPCPort: port}
	cfg.Fragments.AckTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

var allTransports = []string{session.TransportTCP, session.TransportUDP, session.TransportRPC}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{Transport: " RPC "}
	cfg.ApplyDefaults()

	assert.Equal(t, session.TransportRPC, cfg.Transport)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, tcp.DefaultPort, cfg.Port)
	assert.Equal(t, rpc.DefaultPort, cfg.RPCPort)
	assert.Equal(t, "localhost:1099", cfg.Address())
	assert.NotNil(t, cfg.HTTPClient)

	cfg = Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, session.TransportTCP, cfg.Transport)
	assert.Equal(t, "localhost:8072", cfg.Address())
}

func TestDialUnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), Config{Transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestCommandSequence(t *testing.T) {
	for _, transport := range allTransports {
		t.Run(transport, func(t *testing.T) {
			srv := startServer(t, transport)
			c := srv.dial(t, transport)
			ctx := testContext(t)

			assert.Equal(t, transport, c.Transport())

			_, err := c.Getdir(ctx)
			require.Error(t, err)
			assert.True(t, IsCommandError(err))
			assert.Equal(t, "Not connected", err.Error())

			cr, err := c.Connect(ctx, "alice", "Alice Liddell", "")
			require.NoError(t, err)
			assert.True(t, c.Connected())
			assert.Equal(t, "alice", c.Username())
			assert.Equal(t, srv.dir, c.CurrentDir())
			assert.Equal(t, cr.ServerOS, c.ServerOS())
			assert.NotEmpty(t, c.ServerVersion())

			require.NoError(t, os.Mkdir(filepath.Join(srv.dir, "sub"), 0o755))
			chr, err := c.Chdir(ctx, "sub")
			require.NoError(t, err)
			assert.Equal(t, srv.dir, chr.OldDir)
			assert.Equal(t, filepath.Join(srv.dir, "sub"), c.CurrentDir())

			er, err := c.Execute(ctx, &protocol.Execute{Command: "echo hello"})
			require.NoError(t, err)
			assert.Contains(t, er.Stdout, "hello")
			assert.Equal(t, int32(0), er.ExitCode)

			ur, err := c.Upload(ctx, &protocol.Upload{FileName: "note.txt", Data: []byte("hi there")})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(srv.dir, "sub", "note.txt"), ur.AbsolutePath)

			dr, err := c.Download(ctx, &protocol.Download{Path: "note.txt", Offset: 3})
			require.NoError(t, err)
			assert.Equal(t, []byte("there"), dr.Data)
			assert.True(t, dr.Partial)

			_, err = c.Chdir(ctx, "missing")
			require.Error(t, err)
			var ce *CommandError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, protocol.TagChdir, ce.Command)

			gr, err := c.Getdir(ctx)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(srv.dir, "sub"), gr.CurrentDir)

			require.NoError(t, c.Close())
			assert.Eventually(t, func() bool { return srv.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

			_, err = c.Getdir(ctx)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestUDPFragmentedTransfers(t *testing.T) {
	srv := startServer(t, session.TransportUDP)
	c := srv.dial(t, session.TransportUDP)
	ctx := testContext(t)

	_, err := c.Connect(ctx, "bob", "", "")
	require.NoError(t, err)

	data := bytes.Repeat([]byte("0123456789"), 10000)
	ur, err := c.Upload(ctx, &protocol.Upload{FileName: "big.bin", Data: data})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), ur.Size)

	got, err := os.ReadFile(filepath.Join(srv.dir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	dr, err := c.Download(ctx, &protocol.Download{Path: "big.bin", Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, data[10:], dr.Data)
	assert.Equal(t, int64(len(data)), dr.TotalSize)
	assert.True(t, dr.Partial)
}

func TestServerNotice(t *testing.T) {
	t.Run(session.TransportTCP, func(t *testing.T) {
		srv := startServer(t, session.TransportTCP)
		c := srv.dial(t, session.TransportTCP)
		ctx := testContext(t)

		_, err := c.Connect(ctx, "carol", "", "")
		require.NoError(t, err)

		s, ok := srv.registry.Lookup("carol")
		require.True(t, ok)
		go s.GracefulDisconnect(context.Background(), "kicked")

		select {
		case d := <-c.Notices():
			assert.Equal(t, "kicked", d.Reason)
		case <-time.After(5 * time.Second):
			t.Fatal("no disconnect notice")
		}
		assert.False(t, c.Connected())
		assert.Eventually(t, func() bool { return srv.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

		_, err = c.Getdir(ctx)
		assert.ErrorIs(t, err, ErrConnectionLost)
	})

	t.Run(session.TransportUDP, func(t *testing.T) {
		srv := startServer(t, session.TransportUDP)
		c := srv.dial(t, session.TransportUDP)
		ctx := testContext(t)

		_, err := c.Connect(ctx, "dave", "", "")
		require.NoError(t, err)

		s, ok := srv.registry.Lookup("dave")
		require.True(t, ok)

		finished := make(chan struct{})
		go func() {
			s.GracefulDisconnect(context.Background(), "Server shutting down")
			close(finished)
		}()

		select {
		case d := <-c.Notices():
			assert.Equal(t, "Server shutting down", d.Reason)
		case <-time.After(5 * time.Second):
			t.Fatal("no disconnect notice")
		}

		// The client answers the notice itself, so the server does not
		// wait out its grace period.
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("graceful disconnect waited out the grace period")
		}
		assert.Equal(t, 0, srv.registry.Count())
	})

	t.Run(session.TransportRPC, func(t *testing.T) {
		srv := startServer(t, session.TransportRPC)
		c := srv.dial(t, session.TransportRPC)
		ctx := testContext(t)

		_, err := c.Connect(ctx, "erin", "", "")
		require.NoError(t, err)

		s, ok := srv.registry.Lookup("erin")
		require.True(t, ok)
		go s.GracefulDisconnect(context.Background(), "maintenance")

		var notice *protocol.Disconnect
		for i := 0; i < 100 && notice == nil; i++ {
			_, _ = c.Getdir(ctx)
			select {
			case notice = <-c.Notices():
			default:
				time.Sleep(10 * time.Millisecond)
			}
		}
		require.NotNil(t, notice)
		assert.Equal(t, "maintenance", notice.Reason)
		assert.False(t, c.Connected())

		require.NoError(t, c.Disconnect(ctx, "ok"))
		assert.Eventually(t, func() bool { return srv.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestDialRPCUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialRPC(context.Background(), "http://"+addr, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping")
}

type datagram struct {
	size int
	msg  protocol.Message
}

// listenPeer is a bare datagram endpoint standing in for a server. It
// answers single-datagram uploads and never acknowledges fragments.
func listenPeer(t *testing.T) (int, <-chan datagram) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	received := make(chan datagram, 64)
	go func() {
		buf := make([]byte, udp.MaxDatagramSize+1)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			msg, err := protocol.Decode(buf[:n])
			if err != nil {
				continue
			}
			select {
			case received <- datagram{size: n, msg: msg}:
			default:
			}
			if up, ok := msg.(*protocol.Upload); ok {
				data, _ := protocol.Encode(&protocol.UploadResult{Size: int64(len(up.Data))})
				_, _ = conn.WriteToUDP(data, from)
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port, received
}

func dialPeer(t *testing.T, port int) *Client {
	t.Helper()
	cfg := Config{Transport: session.TransportUDP, Host: "127.0.0.1", Port: port, ResponseTimeout: 2 * time.Second}
	cfg.Fragments.AckTimeout = 50 * time.Millisecond
	cfg.Fragments.MaxAttempts = 2

	c, err := Dial(testContext(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUDPUploadSizeThreshold(t *testing.T) {
	t.Run("FitsOneFragment", func(t *testing.T) {
		port, received := listenPeer(t)
		c := dialPeer(t, port)

		data := bytes.Repeat([]byte("s"), 4000)
		res, err := c.Upload(testContext(t), &protocol.Upload{FileName: "small.bin", Data: data})
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), res.Size)

		d := <-received
		assert.IsType(t, &protocol.Upload{}, d.msg)
	})

	t.Run("LargerIsFragmented", func(t *testing.T) {
		port, received := listenPeer(t)
		c := dialPeer(t, port)

		data := bytes.Repeat([]byte("l"), 10000)
		_, err := c.Upload(testContext(t), &protocol.Upload{FileName: "large.bin", Data: data})
		require.Error(t, err)

		d := <-received
		f, ok := d.msg.(*protocol.Fragment)
		require.True(t, ok, "got %T", d.msg)
		assert.Equal(t, uint32(0), f.Index)
		assert.Equal(t, uint32(3), f.TotalCount)
		assert.Less(t, d.size, 4200)
	})
}

func TestUDPUploadAbortIsCommandError(t *testing.T) {
	port, _ := listenPeer(t)
	c := dialPeer(t, port)

	data := bytes.Repeat([]byte("a"), 10000)
	res, err := c.Upload(testContext(t), &protocol.Upload{FileName: "lost.bin", Data: data})

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, protocol.TagUpload, cmdErr.Command)
	assert.Contains(t, cmdErr.Message, "Transfer aborted")
	require.NotNil(t, res)
	assert.True(t, res.Failed())
}
