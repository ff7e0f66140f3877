// Package commands implements the rsh command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/internal/cli/prompt"
	"github.com/cin-tie/remote-shell/internal/cli/repl"
	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/client"
)

// SecretEnv names the environment variable read when neither --secret nor
// --ask-secret is given.
const SecretEnv = "RSH_SECRET"

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// ExitError carries the exit status main should terminate with. It is
// returned when a remote command exits non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// connFlags are the persistent flags describing how to reach the server.
type connFlags struct {
	transport   string
	port        int
	rpcPort     int
	secret      string
	askSecret   bool
	dialTimeout time.Duration
	verbose     bool
}

var flags connFlags

var rootCmd = &cobra.Command{
	Use:   "rsh <username> <full-name> [host]",
	Short: "Remote shell client",
	Long: `rsh connects to an rshd server and opens an interactive shell.

Inside the shell you can execute commands on the server, upload and
download files and change the working directory. The host defaults to
localhost.

Examples:
  # Connect over TCP
  rsh alice "Alice Smith" server.example.com

  # Connect over UDP on a custom port
  rsh alice "Alice Smith" server.example.com --transport udp --port 9000

  # Connect over the call transport, prompting for the server secret
  rsh alice "Alice Smith" --transport rpc --ask-secret`,
	Args:          cobra.RangeArgs(2, 3),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "WARN"
		if flags.verbose {
			level = "DEBUG"
		}
		logger.InitWithWriter(os.Stderr, level, "text", logger.IsTerminal(os.Stderr))
	},
	RunE: runShell,
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
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.transport, "transport", "t", client.DefaultTransport, "Transport (tcp|udp|rpc)")
	pf.IntVarP(&flags.port, "port", "p", 0, "Server port for tcp and udp (default 8072)")
	pf.IntVar(&flags.rpcPort, "rpc-port", 0, "Server port for rpc (default 1099)")
	pf.StringVar(&flags.secret, "secret", "", "Server secret (default: $"+SecretEnv+")")
	pf.BoolVar(&flags.askSecret, "ask-secret", false, "Prompt for the server secret")
	pf.DurationVar(&flags.dialTimeout, "dial-timeout", client.DefaultDialTimeout, "Connection timeout")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log transport activity to stderr")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func runShell(cmd *cobra.Command, args []string) error {
	username, fullName := args[0], args[1]
	host := client.DefaultHost
	if len(args) == 3 {
		host = args[2]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := connect(ctx, username, fullName, host)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	out := cmd.OutOrStdout()
	repl.Welcome(out, fullName, c)

	err = repl.New(c, cmd.InOrStdin(), out).Run(ctx)
	switch {
	case err == nil, errors.Is(err, repl.ErrDisconnected), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, client.ErrConnectionLost):
		return fmt.Errorf("connection lost: %w", err)
	default:
		return err
	}
}

// connect dials the server and registers username. The connection is closed
// again when registration fails.
func connect(ctx context.Context, username, fullName, host string) (*client.Client, error) {
	secret, err := resolveSecret()
	if err != nil {
		return nil, err
	}

	cfg := client.Config{
		Transport:   flags.transport,
		Host:        host,
		Port:        flags.port,
		RPCPort:     flags.rpcPort,
		DialTimeout: flags.dialTimeout,
	}
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	if _, err := c.Connect(ctx, username, fullName, secret); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("unable to connect: %w", err)
	}

	logger.Debug("Connected", logger.KeyUsername, username,
		"transport", c.Transport(), "server_version", c.ServerVersion())
	return c, nil
}

func resolveSecret() (string, error) {
	switch {
	case flags.secret != "":
		return flags.secret, nil
	case flags.askSecret:
		secret, err := prompt.Secret("Server secret")
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return secret, nil
	default:
		return os.Getenv(SecretEnv), nil
	}
}
