// Package sessions implements session management subcommands.
package sessions

import (
	"github.com/spf13/cobra"
)

// Cmd is the sessions subcommand.
var Cmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "users"},
	Short:   "Inspect and disconnect connected users",
	Long: `Manage the sessions of a running rshd through its admin API.

Subcommands:
  list  List connected users
  kick  Gracefully disconnect a user`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(kickCmd)
}
