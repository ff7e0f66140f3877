// Package cmdutil provides shared utilities for rshd commands.
package cmdutil

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/cin-tie/remote-shell/internal/cli/output"
	"github.com/cin-tie/remote-shell/pkg/apiclient"
	"github.com/cin-tie/remote-shell/pkg/config"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	APIURL     string
	Output     string
	NoColor    bool
}

// APIURL returns the admin API base URL of a server running with cfg. A
// wildcard bind address is reached over loopback.
func APIURL(cfg *config.Config) string {
	host := cfg.API.BindAddress
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.API.Port))
}

// GetAPIClient returns an admin API client. --api-url wins; otherwise the
// address comes from the configuration the server was started with.
func GetAPIClient() (*apiclient.Client, error) {
	if Flags.APIURL != "" {
		return apiclient.New(Flags.APIURL), nil
	}

	cfg, err := config.Load(Flags.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.API.IsEnabled() {
		return nil, fmt.Errorf("admin API is disabled in the configuration (api.enabled: false)")
	}
	return apiclient.New(APIURL(cfg)), nil
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// NewPrinter returns a printer for the --output and --no-color flags.
func NewPrinter(w io.Writer) (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(w, format, !Flags.NoColor), nil
}

// PrintOutput prints data in the selected format. For tables, emptyMsg is
// shown when isEmpty is set, otherwise the renderer is used.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	printer, err := NewPrinter(os.Stdout)
	if err != nil || printer.Format() != output.FormatTable {
		return
	}
	printer.Success(msg)
}
