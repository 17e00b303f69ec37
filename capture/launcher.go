package capture

import (
	"github.com/yeti47/replaybuffer/process"
)

// Process is a running encoder
type Process interface {
	Name() string
	PID() int
	Quit() error
	Kill() error
	Done() <-chan struct{}
	Exited() bool
	Err() error
}

// Launcher spawns encoder processes that live no longer than the launcher itself
type Launcher interface {
	Start(spec process.Spec) (Process, error)
	Close() error
}

// LauncherFactory creates one Launcher per capture session
type LauncherFactory func() (Launcher, error)

type groupLauncher struct {
	group *process.Group
}

// NewProcessGroupLauncher creates a Launcher backed by an OS process group
func NewProcessGroupLauncher() (Launcher, error) {
	group, err := process.NewGroup()
	if err != nil {
		return nil, err
	}
	return &groupLauncher{group: group}, nil
}

func (l *groupLauncher) Start(spec process.Spec) (Process, error) {
	child, err := l.group.Start(spec)
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (l *groupLauncher) Close() error {
	return l.group.Close()
}
