//go:build windows

package shell

import "os/exec"

func interpreter(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func setProcGroup(cmd *exec.Cmd) {}

func kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
