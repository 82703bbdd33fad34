//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

func interpreter(command string) (string, []string) {
	return "/bin/sh", []string{"-c", command}
}

// setProcGroup places the child in its own process group so that a
// deadline kill also reaches grandchildren holding the output pipes,
// which would otherwise keep Wait blocked after the shell dies.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
