package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cin-tie/remote-shell/pkg/audit"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected normalized level WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.MaxUsers != 50 {
		t.Errorf("Expected max_users 50, got %d", cfg.Server.MaxUsers)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown_timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.GracePeriod != 500*time.Millisecond {
		t.Errorf("Expected grace_period 500ms, got %v", cfg.Server.GracePeriod)
	}
	if cfg.Server.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("Expected max_file_size %s, got %s", DefaultMaxFileSize, cfg.Server.MaxFileSize)
	}
}

func TestApplyDefaults_Transports(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.TCP.Port != 8072 || cfg.UDP.Port != 8072 {
		t.Errorf("Expected tcp and udp on 8072, got %d and %d", cfg.TCP.Port, cfg.UDP.Port)
	}
	if cfg.RPC.Port != 1099 {
		t.Errorf("Expected rpc on 1099, got %d", cfg.RPC.Port)
	}
	if cfg.UDP.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("Expected udp session idle timeout 30m, got %v", cfg.UDP.SessionIdleTimeout)
	}
	if cfg.TCP.GracePeriod != cfg.Server.GracePeriod || cfg.RPC.GracePeriod != cfg.Server.GracePeriod {
		t.Error("Expected transports to inherit the server grace period")
	}
	if cfg.RPC.MaxBodySize <= cfg.Server.MaxFileSize.Int64() {
		t.Errorf("Expected rpc body limit above max_file_size, got %d", cfg.RPC.MaxBodySize)
	}
}

func TestApplyDefaults_APIAndMetrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.BindAddress != "127.0.0.1" {
		t.Errorf("Expected API bound to loopback, got %q", cfg.API.BindAddress)
	}
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port while disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Audit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Audit.Backend != audit.BackendMemory {
		t.Errorf("Expected memory backend, got %q", cfg.Audit.Backend)
	}
	if want := filepath.Join(dir, "remote-shell", "audit.db"); cfg.Audit.SQLite.Path != want {
		t.Errorf("Expected sqlite path %q, got %q", want, cfg.Audit.SQLite.Path)
	}

	cfg = &Config{Audit: AuditConfig{Backend: "postgres"}}
	ApplyDefaults(cfg)
	if cfg.Audit.Postgres.Port != 5432 || cfg.Audit.Postgres.SSLMode != "disable" {
		t.Errorf("Expected postgres defaults, got %+v", cfg.Audit.Postgres)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{MaxUsers: 3, ShutdownTimeout: time.Minute},
	}
	cfg.TCP.Port = 7000
	cfg.UDP.Workers = 2

	ApplyDefaults(cfg)

	if cfg.Server.MaxUsers != 3 {
		t.Errorf("Expected max_users 3 preserved, got %d", cfg.Server.MaxUsers)
	}
	if cfg.TCP.ShutdownTimeout != time.Minute {
		t.Errorf("Expected tcp shutdown timeout to follow server, got %v", cfg.TCP.ShutdownTimeout)
	}
	if cfg.TCP.Port != 7000 {
		t.Errorf("Expected tcp port 7000 preserved, got %d", cfg.TCP.Port)
	}
	if cfg.UDP.Workers != 2 {
		t.Errorf("Expected udp workers 2 preserved, got %d", cfg.UDP.Workers)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if !cfg.TCP.Enabled || !cfg.UDP.Enabled || !cfg.RPC.Enabled {
		t.Error("Expected every transport enabled by default")
	}
	if cfg.DispatcherConfig().MaxFileSize != DefaultMaxFileSize.Int64() {
		t.Error("Expected dispatcher max file size to follow the server section")
	}
}
