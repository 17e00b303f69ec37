package process

import (
	"os/exec"
	"runtime"
	"syscall"
)

func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// startCommand forks from a dedicated goroutine. Pdeathsig fires when the forking
// OS thread exits, not the process, and the runtime terminates a thread whose
// goroutine exits while locked to it. The spawning goroutine unlocks before it
// returns so its thread goes back to the scheduler and outlives the child.
func startCommand(cmd *exec.Cmd) error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errc <- cmd.Start()
	}()
	return <-errc
}
