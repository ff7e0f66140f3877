package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/cin-tie/remote-shell/pkg/protocol"
)

const (
	ruleWidth = 60

	// Downloads up to previewMaxSize bytes are previewed, at most
	// previewLength of them.
	previewMaxSize = 5000
	previewLength  = 500
)

var (
	heavyRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

// Welcome prints the banner shown after a successful Connect.
func Welcome(w io.Writer, fullName string, r Remote) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w, "    REMOTE SHELL CLIENT")
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintf(w, "User: %s (%s)\n", fullName, r.Username())
	fmt.Fprintf(w, "Server: %s\n", r.ServerOS())
	fmt.Fprintf(w, "Current directory: %s\n", r.CurrentDir())
	printHelp(w)
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, lightRule)
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  (h)elp     - Show available commands")
	fmt.Fprintln(w, "  (e)xecute  - Execute shell command")
	fmt.Fprintln(w, "  (u)pload   - Upload file to server")
	fmt.Fprintln(w, "  (d)ownload - Download file from server")
	fmt.Fprintln(w, "  (c)d       - Change directory")
	fmt.Fprintln(w, "  (p)wd      - Print working directory")
	fmt.Fprintln(w, "  (q)uit     - Exit client")
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w)
}

func header(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, heavyRule)
}

// PrintExecuteResult prints the outcome of a shell command.
func PrintExecuteResult(w io.Writer, res *protocol.ExecuteResult) {
	header(w, "COMMAND EXECUTION RESULT")
	fmt.Fprintf(w, "Exit code: %d\n", res.ExitCode)
	fmt.Fprintf(w, "Execution time: %dms\n", res.ElapsedMs)
	fmt.Fprintf(w, "Working directory: %s\n", res.WorkingDir)

	if res.Stdout != "" {
		fmt.Fprintln(w, "\n--- STDOUT ---")
		fmt.Fprint(w, withNewline(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprintln(w, "--- STDERR ---")
		fmt.Fprint(w, withNewline(res.Stderr))
	}
	fmt.Fprintln(w, heavyRule)
}

func printUploadResult(w io.Writer, res *protocol.UploadResult) {
	header(w, "FILE UPLOAD RESULT")
	fmt.Fprintf(w, "File path: %s\n", res.AbsolutePath)
	fmt.Fprintf(w, "File size: %d bytes\n", res.Size)
	fmt.Fprintf(w, "File existed: %t\n", res.PreExisted)
	fmt.Fprintln(w, "Status: SUCCESS")
	fmt.Fprintln(w, heavyRule)
}

func printDownloadHeader(w io.Writer, res *protocol.DownloadResult) {
	header(w, "FILE DOWNLOAD RESULT")
	fmt.Fprintf(w, "File name: %s\n", res.FileName)
	fmt.Fprintf(w, "Total size: %d bytes\n", res.TotalSize)
	fmt.Fprintf(w, "Downloaded: %d bytes\n", len(res.Data))
	fmt.Fprintf(w, "Partial: %t\n", res.Partial)
}

func printDownloadPreview(w io.Writer, res *protocol.DownloadResult) {
	switch n := len(res.Data); {
	case n == 0:
		fmt.Fprintln(w, "\nNo file data received or file is empty")
	case n <= previewMaxSize:
		fmt.Fprintf(w, "\nFile content preview (first %d bytes):\n", previewLength)
		fmt.Fprintln(w, string(res.Data[:min(n, previewLength)]))
		if n > previewLength {
			fmt.Fprintln(w, "... [truncated]")
		}
	default:
		fmt.Fprintf(w, "\nFile is too large for preview (%d bytes)\n", n)
	}
	fmt.Fprintln(w, heavyRule)
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
