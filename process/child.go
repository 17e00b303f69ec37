package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Child is a running process started by a Group
type Child struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	exited  bool
	exitErr error
	done    chan struct{}
}

func (c *Child) Name() string {
	return c.name
}

func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Exited reports whether the process has exited
func (c *Child) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

// Err returns the exit error; nil while running or after a clean exit
func (c *Child) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *Child) setExited(err error) {
	c.mu.Lock()
	c.exited = true
	c.exitErr = err
	c.mu.Unlock()
	close(c.done)
}

// Quit asks the encoder to finish its output and exit by writing 'q' to its stdin
func (c *Child) Quit() error {
	if c.Exited() {
		return nil
	}
	if _, err := c.stdin.Write([]byte("q")); err != nil {
		return fmt.Errorf("failed to signal %s: %w", c.name, err)
	}
	return nil
}

// Kill force-terminates the process and its descendants. Killing an exited
// process is not an error.
func (c *Child) Kill() error {
	if c.Exited() {
		return nil
	}
	if err := killTree(c.PID()); err != nil {
		return fmt.Errorf("failed to kill %s (pid %d): %w", c.name, c.PID(), err)
	}
	return nil
}
