package tcp

import (
	"fmt"
	"time"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultPort            = 8072
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultGracePeriod     = 500 * time.Millisecond
)

// Config holds the stream transport settings.
//
// Port is not defaulted here: 0 asks the kernel for an ephemeral port, which
// tests rely on. The configuration layer supplies DefaultPort.
type Config struct {
	// Enabled controls whether the stream transport is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the IP address to listen on. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port, shared with the datagram transport.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// PollInterval is the read deadline used while waiting for the next
	// frame, so idle connections notice shutdown.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=0" yaml:"poll_interval"`

	// WriteTimeout bounds writing one result frame.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`

	// ShutdownTimeout bounds the wait for connections to close on Stop.
	ShutdownTimeout time.Duration `mapstructure:"-" yaml:"-"`

	// GracePeriod is how long GracefulDisconnect waits for the client to
	// close after the Disconnect notice.
	GracePeriod time.Duration `mapstructure:"-" yaml:"-"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must be >= 0, got %d", c.MaxConnections)
	}
	return nil
}
