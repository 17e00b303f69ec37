package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// EngineError is returned when an ffmpeg or ffprobe invocation exits unsuccessfully
type EngineError struct {
	Tool     string
	ExitCode int
	Output   string // tail of the combined output
	Err      error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError
func NewEngineError(tool string, exitCode int, output string, err error) *EngineError {
	return &EngineError{Tool: tool, ExitCode: exitCode, Output: output, Err: err}
}

// IsEngineError checks if an error is an EngineError
func IsEngineError(err error) bool {
	var target *EngineError
	return errors.As(err, &target)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
