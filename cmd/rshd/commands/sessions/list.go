package sessions

import (
	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/cmd/rshd/cmdutil"
	"github.com/cin-tie/remote-shell/internal/cli/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List connected users",
	Long: `List the users connected to a running rshd, across all transports.

Examples:
  rshd sessions list
  rshd sessions list -o yaml`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAPIClient()
	if err != nil {
		return err
	}

	sessions, err := client.ListSessions()
	if err != nil {
		return err
	}

	list := output.NewSessionList(sessions)
	return cmdutil.PrintOutput(cmd.OutOrStdout(), list, len(sessions) == 0, "No active users", list)
}
