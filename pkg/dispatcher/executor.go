package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// waitDelay bounds how long Wait keeps draining pipes after the process
// group was killed; grandchildren that inherited stdout would otherwise
// hold Wait open.
const waitDelay = 2 * time.Second

// errTimedOut marks a command killed by its timeout.
var errTimedOut = errors.New("command timed out")

// execOutcome is the captured result of one shell command.
type execOutcome struct {
	stdout   string
	stderr   string
	exitCode int
	elapsed  time.Duration
}

// runShell runs command through the host shell in dir with a hard timeout.
// A non-zero exit status is a normal outcome. Spawn failures and timeouts
// are returned as errors; on timeout the whole process group is killed.
func runShell(ctx context.Context, command, dir string, timeout time.Duration) (execOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := shellCommand(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	prepareCommand(cmd)
	cmd.Cancel = func() error { return killCommand(cmd) }
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := execOutcome{
		stdout:  stdout.String(),
		stderr:  stderr.String(),
		elapsed: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, errTimedOut
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.exitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return out, fmt.Errorf("interrupted: %w", ctx.Err())
		}
		return out, err
	}
	return out, nil
}

func (d *Dispatcher) handleExecute(ctx context.Context, s session.Session, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Execute)

	dir := resolvePath(s.CurrentDirectory(), req.WorkingDir)
	timeout := d.cfg.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	telemetry.SetAttributes(ctx, telemetry.Shell(req.Command), telemetry.Dir(dir),
		telemetry.TimeoutMs(timeout.Milliseconds()))
	logger.InfoCtx(ctx, "Executing command", logger.KeyShell, req.Command, logger.KeyDir, dir)

	out, err := runShell(ctx, req.Command, dir, timeout)
	switch {
	case errors.Is(err, errTimedOut):
		logger.WarnCtx(ctx, "Command timed out", logger.KeyShell, req.Command, logger.KeyTimeoutMs, timeout.Milliseconds())
		return &protocol.ExecuteResult{Status: protocol.Failure(
			fmt.Sprintf("Command timed out after %dms", timeout.Milliseconds()))}
	case err != nil:
		return &protocol.ExecuteResult{Status: protocol.Failure(
			fmt.Sprintf("Command execution failed: %v", err))}
	}

	telemetry.SetAttributes(ctx, telemetry.ExitCode(int32(out.exitCode)))
	logger.InfoCtx(ctx, "Command finished",
		logger.KeyExitCode, out.exitCode,
		logger.KeyDurationMs, out.elapsed.Milliseconds())

	return &protocol.ExecuteResult{
		Stdout:     out.stdout,
		Stderr:     out.stderr,
		ExitCode:   int32(out.exitCode),
		ElapsedMs:  out.elapsed.Milliseconds(),
		WorkingDir: dir,
	}
}
