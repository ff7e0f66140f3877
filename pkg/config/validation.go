package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/cin-tie/remote-shell/internal/telemetry"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if !cfg.TCP.Enabled && !cfg.UDP.Enabled && !cfg.RPC.Enabled {
		return errors.New("transports: at least one of tcp, udp or rpc must be enabled")
	}

	// UDP may share the TCP port; the HTTP listeners may not.
	if cfg.RPC.Enabled && cfg.TCP.Enabled && cfg.RPC.Port == cfg.TCP.Port {
		return fmt.Errorf("rpc.port: %d is already used by tcp", cfg.RPC.Port)
	}
	if cfg.API.IsEnabled() && cfg.RPC.Enabled && cfg.API.Port == cfg.RPC.Port && cfg.API.Port != 0 {
		return fmt.Errorf("api.port: %d is already used by rpc", cfg.API.Port)
	}
	if cfg.Metrics.Enabled && cfg.API.IsEnabled() && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port: %d is already used by api", cfg.Metrics.Port)
	}

	if cfg.Server.SecretHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.Server.SecretHash)); err != nil {
			return fmt.Errorf("server.secret_hash: not a bcrypt hash: %w", err)
		}
	}

	if cfg.UDP.FragmentSize > 60000 {
		return fmt.Errorf("udp.fragment_size: %d does not fit in a datagram", cfg.UDP.FragmentSize)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint: required when telemetry is enabled")
	}

	if cfg.Telemetry.Profiling.Enabled {
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.Backend == "postgres" && cfg.Audit.Postgres.User == "" {
		return errors.New("audit.postgres.user: required for the postgres backend")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
