package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Write a commented configuration file with every default value.

Examples:
  # Create $XDG_CONFIG_HOME/remote-shell/config.yaml
  rshd config init

  # Create or replace a custom file
  rshd config init --config /etc/remote-shell/config.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set server.secret_hash (see 'rshd secret hash') to require a secret")
	fmt.Fprintln(out, "  2. Start the server with: rshd start")
	fmt.Fprintf(out, "  3. Or specify the file explicitly: rshd start --config %s\n", path)
	return nil
}
