package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/internal/cli/output"
	"github.com/cin-tie/remote-shell/internal/cli/repl"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

var (
	execHost      string
	execFullName  string
	execDir       string
	execTimeoutMs int64
	execOutput    string
)

var execCmd = &cobra.Command{
	Use:   "exec <username> <command>...",
	Short: "Run a single command on the server",
	Long: `Connect, run one command, print its output and disconnect.

The remote stdout and stderr are copied to the local ones and rsh exits
with the remote exit code. With --output json or yaml the full result is
printed instead.

Examples:
  # List the server's temp directory
  rsh exec alice ls -la /tmp --host server.example.com

  # Run in a given directory with a 5 second timeout, as JSON
  rsh exec alice make test --dir /srv/app --timeout-ms 5000 -o json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execHost, "host", "localhost", "Server host")
	execCmd.Flags().StringVar(&execFullName, "full-name", "", "Full name sent on connect (default: the username)")
	execCmd.Flags().StringVar(&execDir, "dir", "", "Working directory on the server (default: session directory)")
	execCmd.Flags().Int64Var(&execTimeoutMs, "timeout-ms", repl.DefaultTimeoutMs, "Command timeout in milliseconds")
	execCmd.Flags().StringVarP(&execOutput, "output", "o", "text", "Output format (text|json|yaml)")
}

func runExec(cmd *cobra.Command, args []string) error {
	username := args[0]
	command := strings.Join(args[1:], " ")
	fullName := execFullName
	if fullName == "" {
		fullName = username
	}

	format := strings.ToLower(execOutput)
	if format != "text" {
		if _, err := output.ParseFormat(format); err != nil || format == string(output.FormatTable) {
			return fmt.Errorf("invalid output format: %q (valid: text, json, yaml)", execOutput)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := connect(ctx, username, fullName, execHost)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	res, err := c.Execute(ctx, &protocol.Execute{
		Command:    command,
		WorkingDir: execDir,
		TimeoutMs:  execTimeoutMs,
	})
	if err != nil {
		return err
	}

	if err := printExecResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, res); err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: int(res.ExitCode)}
	}
	return nil
}

func printExecResult(stdout, stderr io.Writer, format string, res *protocol.ExecuteResult) error {
	switch output.Format(format) {
	case output.FormatJSON:
		return output.PrintJSON(stdout, res)
	case output.FormatYAML:
		return output.PrintYAML(stdout, res)
	}

	if _, err := io.WriteString(stdout, res.Stdout); err != nil {
		return err
	}
	_, err := io.WriteString(stderr, res.Stderr)
	return err
}
