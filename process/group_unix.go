//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func startCommand(cmd *exec.Cmd) error {
	return cmd.Start()
}
