package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/cin-tie/remote-shell/internal/cli/prompt"
)

var secretCost int

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Shared secret helpers",
}

var secretHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a shared secret for server.secret_hash",
	Long: `Prompt for a shared secret and print its bcrypt hash.

Store the hash as server.secret_hash so the plaintext secret never appears
in the configuration file.

Examples:
  rshd secret hash
  rshd secret hash --cost 12`,
	Args: cobra.NoArgs,
	RunE: runSecretHash,
}

func init() {
	secretHashCmd.Flags().IntVar(&secretCost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
	secretCmd.AddCommand(secretHashCmd)
}

func runSecretHash(cmd *cobra.Command, args []string) error {
	secret, err := prompt.NewSecret("Secret", "Confirm secret")
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), secretCost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}
