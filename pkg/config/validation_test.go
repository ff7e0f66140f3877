package config

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "LOUD" }, "oneof"},
		{"InvalidLogFormat", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"PortOutOfRange", func(c *Config) { c.TCP.Port = 70000 }, "max"},
		{"NegativePort", func(c *Config) { c.RPC.Port = -1 }, "min"},
		{"ZeroMaxUsers", func(c *Config) { c.Server.MaxUsers = 0 }, "min"},
		{"SampleRate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "lte"},
		{"UnknownAuditBackend", func(c *Config) { c.Audit.Backend = "mongo" }, "oneof"},
		{"FragmentTooLarge", func(c *Config) { c.UDP.FragmentSize = 65000 }, "max"},
		{"NoTransports", func(c *Config) {
			c.TCP.Enabled, c.UDP.Enabled, c.RPC.Enabled = false, false, false
		}, "at least one"},
		{"RPCOnTCPPort", func(c *Config) { c.RPC.Port = c.TCP.Port }, "already used by tcp"},
		{"UDPSharesTCPPort", func(c *Config) { c.UDP.Port = c.TCP.Port }, ""},
		{"APIOnRPCPort", func(c *Config) { c.API.Port = c.RPC.Port }, "already used by rpc"},
		{"BadSecretHash", func(c *Config) { c.Server.SecretHash = "plaintext" }, "not a bcrypt hash"},
		{"UnknownProfileType", func(c *Config) {
			c.Telemetry.Profiling.Enabled = true
			c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "heap-ish"}
		}, "profile_types"},
		{"PostgresWithoutUser", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.Backend = "postgres"
		}, "audit.postgres.user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_SecretHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}

	cfg := GetDefaultConfig()
	cfg.Server.SecretHash = string(hash)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected bcrypt hash to validate, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected lowercase level to validate, got: %v", err)
	}
}
