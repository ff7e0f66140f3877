// Package commands implements the rshd command tree.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/cmd/rshd/cmdutil"
	"github.com/cin-tie/remote-shell/cmd/rshd/commands/config"
	"github.com/cin-tie/remote-shell/cmd/rshd/commands/sessions"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rshd",
	Short: "Remote shell server",
	Long: `rshd serves a remote shell over three transports: a TCP stream, UDP
datagrams with fragmented transfers, and an HTTP call transport.

Connected users run shell commands, upload and download files and move
between directories on the server host.

Use "rshd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.ConfigFile = cfgFile
		cmdutil.Flags.APIURL, _ = cmd.Flags().GetString("api-url")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/remote-shell/config.yaml)")
	rootCmd.PersistentFlags().String("api-url", "", "Admin API URL (default: derived from the config file)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(sessions.Cmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
