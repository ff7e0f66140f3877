package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/cmd/rshd/cmdutil"
	"github.com/cin-tie/remote-shell/internal/cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of a running rshd through its admin API: start
time, uptime, connected users and the transports with their ports.

Examples:
  # Status of the server started with the default config
  rshd status

  # Status of a server with a custom API address, as JSON
  rshd status --api-url http://127.0.0.1:8081 -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAPIClient()
	if err != nil {
		return err
	}

	stats, err := client.Ready()
	if err != nil {
		return err
	}

	printer, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if printer.Format() != output.FormatTable {
		return printer.Print(stats)
	}

	printer.Println()
	printer.Println("Remote Shell Server Status")
	printer.Println("==========================")
	printer.Println()
	if err := output.SimpleTable(printer.Writer(), output.StatusPairs(*stats, time.Now())); err != nil {
		return err
	}
	printer.Println()
	return nil
}
