// Package tcp implements the stream transport: each command is one
// length-prefixed frame on a persistent connection, answered in order by its
// result frame.
package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/metrics"
)

// Adapter serves the remote shell protocol over TCP.
//
// Adapter embeds BaseAdapter for the listener lifecycle (accept loop,
// connection limit, shutdown). Each accepted connection runs its own
// goroutine and is a dispatcher.Peer: at most one session is bound to it.
type Adapter struct {
	*adapter.BaseAdapter

	config     Config
	dispatcher *dispatcher.Dispatcher
}

// New creates a stopped stream adapter. A nil m disables connection metrics.
//
// Panics if config validation fails.
func New(config Config, d *dispatcher.Dispatcher, m metrics.ConnectionMetrics) *Adapter {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP config: %v", err))
	}

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:     config.BindAddress,
		Port:            config.Port,
		MaxConnections:  config.MaxConnections,
		ShutdownTimeout: config.ShutdownTimeout,
	}, "TCP")
	if m != nil {
		base.Metrics = m
	}

	logger.Debug("TCP adapter configured",
		"poll_interval", config.PollInterval,
		"grace_period", config.GracePeriod)

	return &Adapter{
		BaseAdapter: base,
		config:      config,
		dispatcher:  d,
	}
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a, nil, nil)
}

// Addr blocks until the listener is bound and returns its address.
func (a *Adapter) Addr() string {
	return a.GetListenerAddr()
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewConnection(a, conn)
}

// Compile-time check.
var _ adapter.Adapter = (*Adapter)(nil)
