package udp

import (
	"fmt"
	"time"

	"github.com/cin-tie/remote-shell/pkg/fragment"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultPort               = 8072
	DefaultWorkers            = 10
	DefaultQueueSize          = 256
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultGracePeriod        = 500 * time.Millisecond
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultSweepInterval      = 5 * time.Second
	DefaultStopTimeout        = 10 * time.Second
)

// MaxDatagramSize is the largest UDP payload. It sizes receive buffers and
// bounds results that carry no file data; file payloads above SafePayload
// never travel in a single datagram.
const MaxDatagramSize = 65507

// Config holds the datagram transport settings.
//
// Port is not defaulted here: 0 asks the kernel for an ephemeral port. The
// configuration layer supplies DefaultPort, shared with the stream transport.
type Config struct {
	// Enabled controls whether the datagram transport is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the IP address to listen on. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the UDP port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// Workers is the number of goroutines decoding and dispatching datagrams.
	Workers int `mapstructure:"workers" validate:"min=0" yaml:"workers"`

	// QueueSize bounds datagrams waiting for a worker. Datagrams arriving at
	// a full queue are dropped.
	QueueSize int `mapstructure:"queue_size" validate:"min=0" yaml:"queue_size"`

	// PollInterval is the read deadline of the receive loop, so it notices
	// shutdown.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=0" yaml:"poll_interval"`

	// FragmentSize is the number of file bytes per fragment.
	FragmentSize int `mapstructure:"fragment_size" validate:"min=0,max=60000" yaml:"fragment_size"`

	// AckTimeout is how long a fragment waits for its acknowledgement.
	AckTimeout time.Duration `mapstructure:"ack_timeout" validate:"min=0" yaml:"ack_timeout"`

	// MaxAttempts bounds transmissions of one fragment.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=0" yaml:"max_attempts"`

	// TransferIdleTimeout evicts uploads that stopped making progress.
	TransferIdleTimeout time.Duration `mapstructure:"transfer_idle_timeout" validate:"min=0" yaml:"transfer_idle_timeout"`

	// SessionIdleTimeout evicts sessions with no traffic. 0 disables eviction.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" validate:"min=0" yaml:"session_idle_timeout"`

	// MaxTransferSize bounds the bytes one upload may carry.
	MaxTransferSize int64 `mapstructure:"-" yaml:"-"`

	// GracePeriod is how long GracefulDisconnect waits for the client to
	// answer the Disconnect notice.
	GracePeriod time.Duration `mapstructure:"-" yaml:"-"`

	// SweepInterval is how often idle transfers and sessions are evicted.
	SweepInterval time.Duration `mapstructure:"-" yaml:"-"`

	// StopTimeout bounds the wait for workers and outbound transfers on Stop.
	StopTimeout time.Duration `mapstructure:"-" yaml:"-"`
}

// ApplyDefaults fills in zero values. SessionIdleTimeout keeps 0 as
// "disabled".
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

// Fragments returns the fragmentation engine settings.
func (c *Config) Fragments() fragment.Config {
	fc := fragment.Config{
		FragmentSize:    c.FragmentSize,
		AckTimeout:      c.AckTimeout,
		MaxAttempts:     c.MaxAttempts,
		IdleTimeout:     c.TransferIdleTimeout,
		MaxTransferSize: c.MaxTransferSize,
	}
	fc.ApplyDefaults()
	return fc
}

// SafePayload is the largest file payload carried inline by one datagram.
// Larger Download results go out as fragmented transfers, as do larger
// uploads from the client. It equals the fragment size.
func (c *Config) SafePayload() int {
	return c.Fragments().FragmentSize
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	// A fragment plus its header and the metadata block must fit one datagram.
	if c.FragmentSize > 60000 {
		return fmt.Errorf("fragment size %d does not fit in a datagram", c.FragmentSize)
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("session idle timeout must be >= 0, got %s", c.SessionIdleTimeout)
	}
	return nil
}
