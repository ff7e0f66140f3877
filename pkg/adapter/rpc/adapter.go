// Package rpc implements the call transport: each command is the body of one
// HTTP POST and its result is the response body. Callers identify their
// session with a token they choose and send on every call.
package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// Wire constants shared with the client.
const (
	// HeaderSessionToken carries the caller token on every call.
	HeaderSessionToken = "X-Session-Token"

	// HeaderSessionNotice carries server notices queued for the caller,
	// one header value per notice.
	HeaderSessionNotice = "X-Session-Notice"

	// ContentType is the media type of call bodies and responses.
	ContentType = "application/octet-stream"

	CallPath = "/rpc/v1/call"
	PingPath = "/rpc/v1/ping"
)

// EncodeNotice renders a notice for the HeaderSessionNotice header.
func EncodeNotice(m protocol.Message) (string, error) {
	data, err := protocol.Encode(m)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeNotice parses one HeaderSessionNotice value.
func DecodeNotice(v string) (protocol.Message, error) {
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode notice: %w", err)
	}
	return protocol.Decode(data)
}

// Adapter serves the remote shell protocol as HTTP calls.
//
// Every token maps to a caller, which is the dispatcher.Peer of that token.
// Calls for one token are serialized; calls for different tokens run
// concurrently.
type Adapter struct {
	config     Config
	dispatcher *dispatcher.Dispatcher
	metrics    metrics.ConnectionMetrics

	server   *http.Server
	listener net.Listener
	ready    chan struct{}

	started atomic.Bool
	active  atomic.Int32

	mu      sync.Mutex
	callers map[string]*caller

	shutdown     chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	stopErr      error
}

// New creates a stopped call adapter. A nil m disables connection metrics.
//
// Panics if config validation fails.
func New(config Config, d *dispatcher.Dispatcher, m metrics.ConnectionMetrics) *Adapter {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid RPC config: %v", err))
	}

	a := &Adapter{
		config:     config,
		dispatcher: d,
		metrics:    m,
		ready:      make(chan struct{}),
		callers:    make(map[string]*caller),
		shutdown:   make(chan struct{}),
	}
	a.server = &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// Serve listens and handles calls until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("RPC adapter already started")
	}
	select {
	case <-a.shutdown:
		return nil
	default:
	}

	addr := net.JoinHostPort(a.config.BindAddress, strconv.Itoa(a.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on RPC port %d: %w", a.config.Port, err)
	}
	a.listener = ln
	close(a.ready)

	logger.Info("RPC adapter listening", logger.KeyAddress, ln.Addr().String())

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go a.sweepCallers(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		return a.Stop(stopCtx)
	case <-a.shutdown:
		<-errCh
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("RPC server failed: %w", err)
	}
}

// Stop shuts the HTTP server down, waiting for in-flight calls bounded by
// ctx. Safe to call repeatedly and before Serve.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.shutdownOnce.Do(func() { close(a.shutdown) })
		if !a.started.Load() {
			return
		}
		logger.Debug("RPC shutdown initiated")
		if err := a.server.Shutdown(ctx); err != nil {
			a.stopErr = fmt.Errorf("RPC server shutdown: %w", err)
			_ = a.server.Close()
			return
		}
		logger.Info("RPC adapter stopped")
	})
	return a.stopErr
}

// Addr blocks until the listener is bound and returns its address.
func (a *Adapter) Addr() string {
	<-a.ready
	return a.listener.Addr().String()
}

// Port returns the bound port once listening, else the configured port.
func (a *Adapter) Port() int {
	select {
	case <-a.ready:
		return a.listener.Addr().(*net.TCPAddr).Port
	default:
		return a.config.Port
	}
}

// Protocol returns "RPC".
func (a *Adapter) Protocol() string {
	return "RPC"
}

// Callers returns the number of known tokens.
func (a *Adapter) Callers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.callers)
}

// Compile-time check.
var _ adapter.Adapter = (*Adapter)(nil)
