package capture

import (
	"errors"
	"fmt"

	"github.com/yeti47/replaybuffer/segments"
)

var (
	// ErrAlreadyRunning is returned by Start while a session exists
	ErrAlreadyRunning = errors.New("capture is already running")
	// ErrNotRunning is returned by Stop when there is no session
	ErrNotRunning = errors.New("capture is not running")
	// ErrSupervisorStopped is returned when the supervisor loop has exited
	ErrSupervisorStopped = errors.New("capture supervisor is not running")
)

// SpawnError is returned when an encoder process could not be started
type SpawnError struct {
	Track segments.Track
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s encoder: %v", e.Track, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NewSpawnError creates a new SpawnError
func NewSpawnError(track segments.Track, err error) *SpawnError {
	return &SpawnError{Track: track, Err: err}
}

// IsSpawnError checks if an error is a SpawnError
func IsSpawnError(err error) bool {
	var target *SpawnError
	return errors.As(err, &target)
}
