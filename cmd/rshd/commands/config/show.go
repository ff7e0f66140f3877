package config

import (
	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/internal/cli/output"
	"github.com/cin-tie/remote-shell/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective rshd configuration, after defaults and
environment overrides. The shared secret is masked.

Examples:
  # Show as YAML
  rshd config show

  # Show as JSON
  rshd config show --format json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVar(&showOutput, "format", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}
	if cfg.Server.Secret != "" {
		cfg.Server.Secret = "********"
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
