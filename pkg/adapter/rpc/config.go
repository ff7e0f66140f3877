package rpc

import (
	"fmt"
	"time"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultPort               = 1099
	DefaultRequestTimeout     = 10 * time.Minute
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultMaxBodySize        = 512 << 20
	DefaultGracePeriod        = 500 * time.Millisecond
	DefaultSweepInterval      = 5 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
)

// Config holds the call transport settings.
//
// Port is not defaulted here: 0 asks the kernel for an ephemeral port. The
// configuration layer supplies DefaultPort.
type Config struct {
	// Enabled controls whether the call transport is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the IP address to listen on. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// RequestTimeout bounds one call, including the command it runs.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=0" yaml:"request_timeout"`

	// SessionIdleTimeout evicts tokens with no calls. 0 disables eviction.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" validate:"min=0" yaml:"session_idle_timeout"`

	// MaxBodySize bounds an encoded command.
	MaxBodySize int64 `mapstructure:"-" yaml:"-"`

	// GracePeriod is how long GracefulDisconnect waits for the client to
	// pick up the Disconnect notice and answer.
	GracePeriod time.Duration `mapstructure:"-" yaml:"-"`

	// SweepInterval is how often idle tokens are evicted.
	SweepInterval time.Duration `mapstructure:"-" yaml:"-"`

	// ShutdownTimeout bounds the wait for in-flight calls on Stop.
	ShutdownTimeout time.Duration `mapstructure:"-" yaml:"-"`
}

// ApplyDefaults fills in zero values. SessionIdleTimeout keeps 0 as
// "disabled".
func (c *Config) ApplyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("session idle timeout must be >= 0, got %s", c.SessionIdleTimeout)
	}
	return nil
}
