//go:build windows

package dispatcher

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func shellCommand(command string) (string, []string) {
	return "cmd.exe", []string{"/c", command}
}

func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func killCommand(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
