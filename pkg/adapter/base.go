package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
)

// ConnectionHandler serves one accepted stream connection. Serve blocks until
// the connection is closed or the context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates connection handlers for accepted TCP connections.
// Stream adapters implement it and pass themselves to ServeWithFactory.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to stream adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to. Empty binds every interface.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections during
	// graceful shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval periodically logs the active connection count.
	// 0 disables it.
	MetricsLogInterval time.Duration
}

// MetricsRecorder records connection lifecycle metrics. A nil recorder
// disables collection.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// OnConnectionClose is invoked when a connection goroutine finishes, before
// its slot is released. It receives the connection remote address.
type OnConnectionClose func(addr string)

// BaseAdapter provides the TCP listener lifecycle shared by stream adapters:
// the accept loop, the connection semaphore, tracking of live connections
// for forced closure, and graceful shutdown.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed, accept loop exits
//  3. Short read deadline set on every connection so blocked reads return
//  4. ShutdownCtx cancelled so in-flight commands observe shutdown
//  5. Wait up to ShutdownTimeout, then force-close what remains
//
// All exported methods are safe for concurrent use.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics is optional; nil means no collection.
	Metrics MetricsRecorder

	// Shutdown is closed once shutdown begins.
	Shutdown chan struct{}

	// ShutdownCtx is the parent context of every connection. It is cancelled
	// during shutdown.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	// ConnCount is the number of live connections.
	ConnCount atomic.Int32

	// ActiveConnections maps remote address to net.Conn for forced closure.
	ActiveConnections sync.Map

	// ListenerReady is closed once the listener is bound.
	ListenerReady chan struct{}

	protocolName  string
	connSemaphore chan struct{}
	activeConns   sync.WaitGroup
	shutdownOnce  sync.Once

	listenerMu sync.RWMutex
	listener   net.Listener
}

// NewBaseAdapter creates a stopped BaseAdapter. Call ServeWithFactory to
// start it.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug(protocol+" connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		Shutdown:       make(chan struct{}),
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
		protocolName:   protocol,
		connSemaphore:  connSemaphore,
	}
}

// ServeWithFactory binds the listener and accepts connections until ctx is
// cancelled or Stop is called.
//
// preAccept, when set, may reject a connection right after accept by
// returning false. onClose, when set, runs as each connection finishes.
//
// Returns nil after a graceful shutdown, or an error if the listener cannot
// be bound or connections had to be force-closed.
func (b *BaseAdapter) ServeWithFactory(
	ctx context.Context,
	factory ConnectionFactory,
	preAccept func(net.Conn) bool,
	onClose OnConnectionClose,
) error {
	listenAddr := net.JoinHostPort(b.Config.BindAddress, fmt.Sprint(b.Config.Port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, listenAddr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening", logger.KeyAddress, listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", logger.Err(ctx.Err()))
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			b.release()
			select {
			case <-b.Shutdown:
				// The listener was closed by initiateShutdown.
				return b.gracefulShutdown()
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", logger.Err(err))
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		if preAccept != nil && !preAccept(conn) {
			_ = conn.Close()
			b.release()
			continue
		}

		addr := conn.RemoteAddr().String()
		b.track(addr, conn)
		handler := factory.NewConnection(conn)

		go func() {
			defer b.untrack(addr, onClose)
			handler.Serve(b.ShutdownCtx)
		}()
	}
}

func (b *BaseAdapter) release() {
	if b.connSemaphore != nil {
		<-b.connSemaphore
	}
}

func (b *BaseAdapter) track(addr string, conn net.Conn) {
	b.activeConns.Add(1)
	active := b.ConnCount.Add(1)
	b.ActiveConnections.Store(addr, conn)

	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
		b.Metrics.SetActiveConnections(active)
	}
	logger.Debug(b.protocolName+" connection accepted", logger.KeyClientAddr, addr, logger.KeyActive, active)
}

func (b *BaseAdapter) untrack(addr string, onClose OnConnectionClose) {
	if onClose != nil {
		onClose(addr)
	}

	b.ActiveConnections.Delete(addr)
	active := b.ConnCount.Add(-1)
	b.activeConns.Done()
	b.release()

	if b.Metrics != nil {
		b.Metrics.RecordConnectionClosed()
		b.Metrics.SetActiveConnections(active)
	}
	logger.Debug(b.protocolName+" connection closed", logger.KeyClientAddr, addr, logger.KeyActive, active)
}

// initiateShutdown closes the listener, interrupts blocked reads and cancels
// ShutdownCtx. Safe to call more than once.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.Err(err))
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a short read deadline on every connection so
// goroutines blocked in Read notice shutdown.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					logger.KeyClientAddr, key, logger.Err(err))
			}
		}
		return true
	})
}

// waitConnections returns a channel closed once every connection goroutine
// has finished.
func (b *BaseAdapter) waitConnections() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()
	return done
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish and
// force-closes the rest.
func (b *BaseAdapter) gracefulShutdown() error {
	active := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		logger.KeyActive, active, "timeout", b.Config.ShutdownTimeout)

	select {
	case <-b.waitConnections():
		logger.Info(b.protocolName + " graceful shutdown complete")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded, forcing closure",
			logger.KeyActive, remaining)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

// forceCloseConnections closes every tracked connection.
func (b *BaseAdapter) forceCloseConnections() {
	closed := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.KeyClientAddr, key, logger.Err(err))
			return true
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed "+b.protocolName+" connections", "count", closed)
	}
}

// Stop initiates shutdown and waits for connections to finish, bounded by
// ctx. Safe to call more than once and concurrently with ServeWithFactory.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	select {
	case <-b.waitConnections():
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			logger.KeyActive, b.ConnCount.Load(), logger.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics", "active_connections", b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the number of live connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr blocks until the listener is bound and returns its
// address.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the bound TCP port, or the configured port before the
// listener is ready.
func (b *BaseAdapter) Port() int {
	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener != nil {
		if addr, ok := b.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return b.Config.Port
}

// Protocol returns the transport name (e.g., "TCP").
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
