package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cin-tie/remote-shell/pkg/adapter/rpc"
	"github.com/cin-tie/remote-shell/pkg/adapter/tcp"
	"github.com/cin-tie/remote-shell/pkg/fragment"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultTransport       = session.TransportTCP
	DefaultHost            = "localhost"
	DefaultDialTimeout     = 10 * time.Second
	DefaultResponseTimeout = 30 * time.Second

	closeTimeout = 5 * time.Second
)

// Config selects a transport and the server to reach.
type Config struct {
	// Transport is tcp, udp or rpc. Default: tcp.
	Transport string

	// Host is the server host name or address. Default: localhost.
	Host string

	// Port is the stream and datagram port. Default: 8072.
	Port int

	// RPCPort is the call transport port. Default: 1099.
	RPCPort int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ResponseTimeout is how long a datagram command waits for its result,
	// on top of the command's own execution timeout.
	ResponseTimeout time.Duration

	// Fragments tunes fragmented uploads and downloads over udp.
	Fragments fragment.Config

	// HTTPClient is used by the call transport. Default: a client without
	// an overall timeout, since commands bound their own duration.
	HTTPClient *http.Client
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = tcp.DefaultPort
	}
	if c.RPCPort == 0 {
		c.RPCPort = rpc.DefaultPort
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	c.Fragments.ApplyDefaults()
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Address returns host:port of the selected transport.
func (c *Config) Address() string {
	port := c.Port
	if c.Transport == session.TransportRPC {
		port = c.RPCPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Dial opens a transport described by cfg. The session is not connected
// until Connect is called.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	switch cfg.Transport {
	case session.TransportTCP:
		return DialTCP(ctx, cfg.Address(), cfg.DialTimeout)
	case session.TransportUDP:
		return DialUDP(ctx, cfg.Address(), cfg)
	case session.TransportRPC:
		return DialRPC(ctx, "http://"+cfg.Address(), cfg.HTTPClient)
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: tcp, udp, rpc)", cfg.Transport)
	}
}
