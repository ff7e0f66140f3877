// Package repl is the interactive command loop of rsh.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/client"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// DefaultTimeoutMs is offered when the user leaves the Execute timeout blank.
const DefaultTimeoutMs = 30000

// ErrDisconnected is returned by Run when the server ends the session.
var ErrDisconnected = errors.New("disconnected by server")

// Remote is the part of *client.Client the shell drives.
type Remote interface {
	Username() string
	CurrentDir() string
	ServerOS() string
	Notices() <-chan *protocol.Disconnect

	Execute(ctx context.Context, cmd *protocol.Execute) (*protocol.ExecuteResult, error)
	Upload(ctx context.Context, up *protocol.Upload) (*protocol.UploadResult, error)
	Download(ctx context.Context, dl *protocol.Download) (*protocol.DownloadResult, error)
	Chdir(ctx context.Context, dir string) (*protocol.ChdirResult, error)
	Getdir(ctx context.Context) (*protocol.GetdirResult, error)
}

var _ Remote = (*client.Client)(nil)

// Shell reads commands, prompts for their arguments and prints results.
type Shell struct {
	remote Remote
	in     io.Reader
	out    io.Writer

	// LocalDir receives downloads saved without an explicit path.
	// Default: the process working directory.
	LocalDir string

	lines   chan string
	readErr chan error
}

// New creates a shell over an already connected remote.
func New(r Remote, in io.Reader, out io.Writer) *Shell {
	return &Shell{remote: r, in: in, out: out}
}

// Run reads commands until quit, end of input, a server disconnect or ctx
// cancellation. It returns nil on quit and end of input, ErrDisconnected
// when the server ended the session, and transport errors that make the
// session unusable.
func (s *Shell) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lines = make(chan string)
	s.readErr = make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case s.lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		s.readErr <- err
	}()

	for {
		fmt.Fprintf(s.out, "%s@%s> ", s.remote.Username(), s.remote.CurrentDir())

		line, err := s.readLine(ctx)
		if err == nil {
			var quit bool
			quit, err = s.Execute(ctx, line)
			if quit {
				return nil
			}
		}
		if err != nil {
			return s.finish(err)
		}
	}
}

func (s *Shell) finish(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		fmt.Fprintln(s.out)
		return nil
	case errors.Is(err, ErrDisconnected),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		fmt.Fprintf(s.out, "\nConnection error: %v\n", err)
		return err
	}
}

// readLine waits for the next input line, a server notice or cancellation.
func (s *Shell) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case d := <-s.remote.Notices():
		fmt.Fprintf(s.out, "\nDisconnected by server: %s\n", d.Reason)
		return "", fmt.Errorf("%w: %s", ErrDisconnected, d.Reason)
	case err := <-s.readErr:
		return "", err
	case line := <-s.lines:
		return strings.TrimSpace(line), nil
	}
}

func (s *Shell) ask(ctx context.Context, label string) (string, error) {
	fmt.Fprint(s.out, label)
	return s.readLine(ctx)
}

// Execute runs one shell command and reports whether the user asked to quit.
// Command failures are printed; only errors that end the session are
// returned. Run must be active, since arguments are read from its input.
func (s *Shell) Execute(ctx context.Context, line string) (bool, error) {
	cmd := strings.ToLower(strings.TrimSpace(line))

	var err error
	switch cmd {
	case "":
		return false, nil
	case "q", "quit", "exit":
		return true, nil
	case "h", "help":
		printHelp(s.out)
	case "e", "execute":
		err = s.execute(ctx)
	case "u", "upload":
		err = s.upload(ctx)
	case "d", "download":
		err = s.download(ctx)
	case "c", "cd":
		err = s.chdir(ctx)
	case "p", "pwd":
		err = s.pwd(ctx)
	default:
		logger.Debug("Unknown shell command", logger.KeyCommand, cmd)
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for available commands.")
	}
	return false, s.report(err)
}

// report prints recoverable errors and passes through the rest.
func (s *Shell) report(err error) error {
	if err == nil {
		return nil
	}

	var ce *client.CommandError
	switch {
	case errors.As(err, &ce):
		fmt.Fprintf(s.out, "Error: %s\n", ce.Message)
		return nil
	case errors.Is(err, ErrDisconnected),
		errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, client.ErrConnectionLost),
		errors.Is(err, client.ErrClosed):
		return err
	default:
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return nil
	}
}

func (s *Shell) execute(ctx context.Context) error {
	command, err := s.ask(ctx, "Enter command to execute: ")
	if err != nil || command == "" {
		return err
	}
	workingDir, err := s.ask(ctx, "Working directory [current]: ")
	if err != nil {
		return err
	}
	timeoutStr, err := s.ask(ctx, fmt.Sprintf("Timeout in ms [%d]: ", DefaultTimeoutMs))
	if err != nil {
		return err
	}

	timeout := int64(DefaultTimeoutMs)
	if timeoutStr != "" {
		if n, perr := strconv.ParseInt(timeoutStr, 10, 64); perr == nil && n > 0 {
			timeout = n
		} else {
			fmt.Fprintf(s.out, "Invalid timeout, using default: %d\n", DefaultTimeoutMs)
		}
	}

	res, err := s.remote.Execute(ctx, &protocol.Execute{
		Command:    command,
		WorkingDir: workingDir,
		TimeoutMs:  timeout,
	})
	if err != nil {
		return err
	}
	PrintExecuteResult(s.out, res)
	return nil
}

func (s *Shell) upload(ctx context.Context) error {
	localPath, err := s.ask(ctx, "Enter local file path: ")
	if err != nil || localPath == "" {
		return err
	}
	targetDir, err := s.ask(ctx, "Enter target directory on server [current]: ")
	if err != nil {
		return err
	}
	overwrite, err := s.confirm(ctx, "Overwrite if exists? (y/n) [n]: ", false)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(localPath)
	if statErr != nil || !info.Mode().IsRegular() {
		fmt.Fprintf(s.out, "File not found: %s\n", localPath)
		return nil
	}
	data, readErr := os.ReadFile(localPath)
	if readErr != nil {
		fmt.Fprintf(s.out, "Error reading file: %v\n", readErr)
		return nil
	}

	res, err := s.remote.Upload(ctx, &protocol.Upload{
		FileName:  filepath.Base(localPath),
		TargetDir: targetDir,
		Data:      data,
		Overwrite: overwrite,
	})
	if err != nil {
		return err
	}
	printUploadResult(s.out, res)
	return nil
}

func (s *Shell) download(ctx context.Context) error {
	remotePath, err := s.ask(ctx, "Enter remote file path: ")
	if err != nil || remotePath == "" {
		return err
	}
	offsetStr, err := s.ask(ctx, "Download offset [0]: ")
	if err != nil {
		return err
	}
	lengthStr, err := s.ask(ctx, "Download length [full file]: ")
	if err != nil {
		return err
	}

	var offset, length int64
	if offsetStr != "" {
		n, perr := strconv.ParseInt(offsetStr, 10, 64)
		if perr != nil || n < 0 {
			fmt.Fprintln(s.out, "Invalid offset, using default: 0")
		} else {
			offset = n
		}
	}
	if lengthStr != "" {
		n, perr := strconv.ParseInt(lengthStr, 10, 64)
		if perr != nil {
			fmt.Fprintln(s.out, "Invalid length, downloading full file")
		} else {
			length = n
		}
	}

	res, err := s.remote.Download(ctx, &protocol.Download{Path: remotePath, Offset: offset, Length: length})
	if err != nil {
		return err
	}

	printDownloadHeader(s.out, res)
	if len(res.Data) > 0 {
		save, err := s.confirm(ctx, "\nSave file to local disk? (y/n) [y]: ", true)
		if err != nil {
			return err
		}
		if save {
			if err := s.save(ctx, res); err != nil {
				return err
			}
		}
	}
	printDownloadPreview(s.out, res)
	return nil
}

// save writes a downloaded file, asking before it replaces an existing one.
func (s *Shell) save(ctx context.Context, res *protocol.DownloadResult) error {
	localPath, err := s.ask(ctx, "Enter local file path: ")
	if err != nil {
		return err
	}
	localPath = s.localTarget(localPath, res.FileName)

	if _, statErr := os.Stat(localPath); statErr == nil {
		overwrite, err := s.confirm(ctx, "File already exists. Overwrite? (y/n) [n]: ", false)
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Fprintln(s.out, "File save cancelled.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		fmt.Fprintf(s.out, "Error saving file: %v\n", err)
		return nil
	}
	if err := os.WriteFile(localPath, res.Data, 0o644); err != nil {
		fmt.Fprintf(s.out, "Error saving file: %v\n", err)
		return nil
	}

	abs, _ := filepath.Abs(localPath)
	logger.Debug("Download saved", logger.KeyPath, abs, logger.KeySize, len(res.Data))
	fmt.Fprintf(s.out, "File saved successfully: %s\n", abs)
	fmt.Fprintf(s.out, "File size: %d bytes\n", len(res.Data))
	return nil
}

// localTarget resolves where a download lands. Blank means LocalDir; a
// directory gets the remote file name appended.
func (s *Shell) localTarget(path, fileName string) string {
	if path == "" {
		dir := s.LocalDir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		return filepath.Join(dir, fileName)
	}
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return filepath.Join(path, fileName)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, fileName)
	}
	return path
}

func (s *Shell) chdir(ctx context.Context) error {
	dir, err := s.ask(ctx, "Enter new directory: ")
	if err != nil || dir == "" {
		return err
	}
	res, err := s.remote.Chdir(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Directory changed: %s -> %s\n", res.OldDir, res.NewDir)
	return nil
}

func (s *Shell) pwd(ctx context.Context) error {
	res, err := s.remote.Getdir(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Current directory: %s\n", res.CurrentDir)
	return nil
}

// confirm reads a y/n answer. Blank selects def.
func (s *Shell) confirm(ctx context.Context, label string, def bool) (bool, error) {
	answer, err := s.ask(ctx, label)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
