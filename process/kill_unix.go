//go:build unix

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// unixGroup relies on process groups; children are placed in their own group at spawn
type unixGroup struct{}

func newPlatformGroup() (platformGroup, error) {
	return unixGroup{}, nil
}

func (unixGroup) assign(pid int) error { return nil }

func (unixGroup) close() error { return nil }

// killTree sends SIGKILL to the child's process group
func killTree(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, unix.SIGKILL)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
