package config

import (
	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/audit"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/metrics"
)

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// DispatcherConfig returns the command dispatcher settings.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Secret:           c.Server.Secret,
		SecretHash:       c.Server.SecretHash,
		InitialDirectory: c.Server.InitialDirectory,
		DefaultTimeout:   c.Server.DefaultCommandTimeout,
		MaxFileSize:      c.Server.MaxFileSize.Int64(),
	}
}

// JournalConfig returns the audit journal settings.
func (c *Config) JournalConfig() audit.Config {
	a := c.Audit
	return audit.Config{
		Backend:        a.Backend,
		MemoryCapacity: a.MemoryCapacity,
		Badger:         audit.BadgerConfig{Path: a.Badger.Path},
		SQL: audit.SQLConfig{
			Type:   audit.DatabaseType(a.Backend),
			SQLite: audit.SQLiteConfig{Path: a.SQLite.Path},
			Postgres: audit.PostgresConfig{
				Host:         a.Postgres.Host,
				Port:         a.Postgres.Port,
				Database:     a.Postgres.Database,
				User:         a.Postgres.User,
				Password:     a.Postgres.Password,
				SSLMode:      a.Postgres.SSLMode,
				MaxOpenConns: a.Postgres.MaxOpenConns,
				MaxIdleConns: a.Postgres.MaxIdleConns,
			},
		},
	}
}

// TelemetryConfig returns the tracer settings for the given build version.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    AppName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig returns the Pyroscope settings for the given build version.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    AppName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}

// MetricsServerConfig returns the metrics HTTP server settings.
func (c *Config) MetricsServerConfig() metrics.ServerConfig {
	return metrics.ServerConfig{Port: c.Metrics.Port}
}
