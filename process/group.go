package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Spec describes a child process to start
type Spec struct {
	Name string
	Path string
	Args []string
	Dir  string
	// OnOutput receives every line of stdout and stderr. It is called from two
	// reader goroutines concurrently and must be safe for that.
	OnOutput func(stream, line string)
}

// platformGroup ties children to the group's lifetime at the OS level
type platformGroup interface {
	assign(pid int) error
	close() error
}

// Group owns a set of child processes. Closing the group terminates every child
// that is still running; on Windows this is also guaranteed by the OS if the
// owning process dies.
type Group struct {
	mu       sync.Mutex
	platform platformGroup
	children []*Child
	closed   bool
}

// NewGroup creates an empty process group
func NewGroup() (*Group, error) {
	platform, err := newPlatformGroup()
	if err != nil {
		return nil, fmt.Errorf("failed to create process group: %w", err)
	}
	return &Group{platform: platform}, nil
}

// Start spawns a child process inside the group
func (g *Group) Start(spec Spec) (*Child, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errors.New("process group is closed")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	configureCommand(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin of %s: %w", spec.Name, err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := startCommand(cmd); err != nil {
		stdin.Close()
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	child := &Child{
		name:  spec.Name,
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	if err := g.platform.assign(cmd.Process.Pid); err != nil {
		killTree(cmd.Process.Pid)
		stdoutW.Close()
		stderrW.Close()
		cmd.Wait()
		return nil, fmt.Errorf("failed to add %s to process group: %w", spec.Name, err)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go drain(&readers, "stdout", stdoutR, spec.OnOutput)
	go drain(&readers, "stderr", stderrR, spec.OnOutput)

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		readers.Wait()
		child.setExited(err)
	}()

	g.children = append(g.children, child)
	return child, nil
}

// Children returns the children started in this group
func (g *Group) Children() []*Child {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Child(nil), g.children...)
}

// KillAll force-terminates every child that is still running
func (g *Group) KillAll() {
	for _, child := range g.Children() {
		child.Kill()
	}
}

// Close kills all children and releases the group
func (g *Group) Close() error {
	g.KillAll()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.platform.close()
}

func drain(wg *sync.WaitGroup, stream string, r io.Reader, onOutput func(stream, line string)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput(stream, scanner.Text())
		}
	}

	// keep draining so the child never blocks on a full pipe
	io.Copy(io.Discard, r)
}

// ScanLines is a bufio.SplitFunc that splits on both '\n' and '\r', since
// encoders redraw their status line with carriage returns.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
