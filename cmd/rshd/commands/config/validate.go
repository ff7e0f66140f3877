package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the rshd configuration file.

Checks for syntax errors, invalid values and port conflicts.

Examples:
  # Validate default config
  rshd config validate

  # Validate specific config file
  rshd config validate --config /etc/remote-shell/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Server.Secret == "" && cfg.Server.SecretHash == "" {
		warnings = append(warnings, "No shared secret configured - any client can connect")
	}
	if cfg.Server.Secret != "" && cfg.Server.SecretHash == "" {
		warnings = append(warnings, "Plaintext server.secret in use - prefer server.secret_hash")
	}
	if cfg.API.IsEnabled() && cfg.API.BindAddress != "127.0.0.1" && cfg.API.BindAddress != "::1" {
		warnings = append(warnings, "Admin API listens beyond loopback - anyone reaching it can disconnect users")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", path)
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nConfiguration summary:\n")
	fmt.Fprintf(out, "  Max users:       %d\n", cfg.Server.MaxUsers)
	fmt.Fprintf(out, "  TCP:             %s\n", listener(cfg.TCP.Enabled, cfg.TCP.Port))
	fmt.Fprintf(out, "  UDP:             %s\n", listener(cfg.UDP.Enabled, cfg.UDP.Port))
	fmt.Fprintf(out, "  RPC:             %s\n", listener(cfg.RPC.Enabled, cfg.RPC.Port))
	fmt.Fprintf(out, "  Audit:           %s\n", audit(cfg))
	fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

func listener(enabled bool, port int) string {
	if !enabled {
		return "disabled"
	}
	return fmt.Sprintf("port %d", port)
}

func audit(cfg *config.Config) string {
	if !cfg.Audit.Enabled {
		return "disabled"
	}
	return cfg.Audit.Backend
}
