package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cin-tie/remote-shell/internal/cli/output"
	"github.com/cin-tie/remote-shell/internal/logger"
)

// ConsolePrompt is printed before every operator command.
const ConsolePrompt = "server> "

const consoleHelp = `
=== Server Control Commands ===
q, quit, stop  - Stop the server gracefully
status         - Show server status and active users
help           - Show this help message
===============================
`

// Console is the operator command loop on the server's terminal.
type Console struct {
	server *Server
	in     io.Reader
	out    io.Writer
}

// NewConsole creates a console reading commands from in and writing to out.
func NewConsole(s *Server, in io.Reader, out io.Writer) *Console {
	return &Console{server: s, in: in, out: out}
}

// Run reads commands until a stop command, end of input or ctx cancellation.
// It returns nil when the operator asked to stop, io.EOF when input ended and
// ctx.Err() when cancelled. The caller owns the actual shutdown.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	fmt.Fprintln(c.out, "Server control console started. Type 'help' for available commands.")
	logger.Debug("Operator console started")

	for {
		fmt.Fprint(c.out, ConsolePrompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return ctx.Err()
		case err := <-readErr:
			fmt.Fprintln(c.out)
			return err
		case line := <-lines:
			if c.Execute(line) {
				logger.Info("Stop command received - shutting down server")
				return nil
			}
		}
	}
}

// Execute runs one console command and reports whether it asks the server to
// stop. Blank lines are ignored.
func (c *Console) Execute(line string) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))

	switch cmd {
	case "":
		return false
	case "q", "quit", "stop":
		return true
	case "status":
		c.status()
	case "help":
		fmt.Fprint(c.out, consoleHelp)
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for available commands)\n", cmd)
	}
	return false
}

func (c *Console) status() {
	registry := c.server.Registry()
	names := registry.ListActive()

	logger.Info("Server status",
		logger.KeyActive, len(names),
		"max_users", registry.MaxUsers())

	fmt.Fprintln(c.out, output.Usernames(names))
	if sessions := c.server.Sessions(); len(sessions) > 0 {
		_ = output.PrintTable(c.out, output.NewSessionList(sessions))
	}
	fmt.Fprintln(c.out, output.Connections(len(names), registry.MaxUsers()))
}
