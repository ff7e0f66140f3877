package sessions

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/cmd/rshd/cmdutil"
	"github.com/cin-tie/remote-shell/internal/cli/prompt"
)

var (
	kickReason string
	kickForce  bool
)

var kickCmd = &cobra.Command{
	Use:   "kick <username>",
	Short: "Gracefully disconnect a user",
	Long: `Send a Disconnect notice to a connected user and close the session
once the client answers or the grace period ends.

Examples:
  rshd sessions kick alice
  rshd sessions kick alice --reason "maintenance" --force`,
	Args: cobra.ExactArgs(1),
	RunE: runKick,
}

func init() {
	kickCmd.Flags().StringVar(&kickReason, "reason", "", "Reason shown to the user (default: server default)")
	kickCmd.Flags().BoolVarP(&kickForce, "force", "f", false, "Skip confirmation")
}

func runKick(cmd *cobra.Command, args []string) error {
	username := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Disconnect user '%s'", username), kickForce)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	client, err := cmdutil.GetAPIClient()
	if err != nil {
		return err
	}

	if err := client.KickSession(username, kickReason); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", username, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("User '%s' disconnected", username))
	return nil
}
