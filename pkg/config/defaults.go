package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cin-tie/remote-shell/internal/bytesize"
	"github.com/cin-tie/remote-shell/pkg/adapter/rpc"
	"github.com/cin-tie/remote-shell/pkg/adapter/tcp"
	"github.com/cin-tie/remote-shell/pkg/adapter/udp"
	"github.com/cin-tie/remote-shell/pkg/api"
	"github.com/cin-tie/remote-shell/pkg/audit"
)

// Server defaults.
const (
	DefaultMaxUsers        = 50
	DefaultShutdownTimeout = 10 * time.Second
	DefaultGracePeriod     = 500 * time.Millisecond
	DefaultCommandTimeout  = 30 * time.Second
	DefaultMaxFileSize     = 256 * bytesize.MiB
	DefaultAPIPort         = 8080
	DefaultMetricsPort     = 9090
	DefaultAuditCapacity   = 10000
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Transport Enabled flags are not touched here: GetDefaultConfig and Load
// start from enabled transports.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyServerDefaults(&cfg.Server)
	applyTCPDefaults(&cfg.TCP, &cfg.Server)
	applyUDPDefaults(&cfg.UDP, &cfg.Server)
	applyRPCDefaults(&cfg.RPC, &cfg.Server)
	applyAuditDefaults(&cfg.Audit)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyMetricsDefaults sets the metrics port when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultAPIPort
	}
	cfg.ApplyDefaults()
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.MaxUsers == 0 {
		cfg.MaxUsers = DefaultMaxUsers
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.DefaultCommandTimeout == 0 {
		cfg.DefaultCommandTimeout = DefaultCommandTimeout
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
}

// applyTCPDefaults fills the stream transport. The shutdown timeout and
// grace period come from the server section.
func applyTCPDefaults(cfg *tcp.Config, srv *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = tcp.DefaultPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = srv.ShutdownTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = srv.GracePeriod
	}
	cfg.ApplyDefaults()
}

// applyUDPDefaults fills the datagram transport. Its port defaults to the
// stream port, which the two transports share.
func applyUDPDefaults(cfg *udp.Config, srv *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = udp.DefaultPort
	}
	if cfg.SessionIdleTimeout == 0 {
		cfg.SessionIdleTimeout = udp.DefaultSessionIdleTimeout
	}
	if cfg.MaxTransferSize == 0 {
		cfg.MaxTransferSize = srv.MaxFileSize.Int64()
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = srv.ShutdownTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = srv.GracePeriod
	}
	cfg.ApplyDefaults()
}

func applyRPCDefaults(cfg *rpc.Config, srv *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = rpc.DefaultPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = srv.ShutdownTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = srv.GracePeriod
	}
	if cfg.MaxBodySize == 0 {
		// Uploads carry the payload plus a small header.
		cfg.MaxBodySize = srv.MaxFileSize.Int64() + 64<<10
	}
	cfg.ApplyDefaults()
}

// applyAuditDefaults places the on-disk journals in the config directory.
func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Backend == "" {
		cfg.Backend = audit.BackendMemory
	}
	if cfg.MemoryCapacity == 0 {
		cfg.MemoryCapacity = DefaultAuditCapacity
	}
	if cfg.Badger.Path == "" {
		cfg.Badger.Path = filepath.Join(getConfigDir(), "audit")
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = filepath.Join(getConfigDir(), "audit.db")
	}
	if cfg.Backend == audit.BackendPostgres {
		if cfg.Postgres.Host == "" {
			cfg.Postgres.Host = "localhost"
		}
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.Database == "" {
			cfg.Postgres.Database = "remote_shell"
		}
		if cfg.Postgres.SSLMode == "" {
			cfg.Postgres.SSLMode = "disable"
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// Every transport is enabled and authentication is off.
func GetDefaultConfig() *Config {
	cfg := unmarshalBase()
	ApplyDefaults(cfg)
	return cfg
}
