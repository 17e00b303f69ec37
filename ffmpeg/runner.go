package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

const maxErrorOutput = 4096

// Runner executes one short-lived ffmpeg invocation to completion
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ExecRunner runs the ffmpeg binary as a child process
type ExecRunner struct {
	logger logging.Logger
	path   string
}

// NewExecRunner creates a Runner for the ffmpeg binary at path
func NewExecRunner(logger logging.Logger, path string) *ExecRunner {
	if logger == nil {
		logger = logging.NopLogger
	}
	if path == "" {
		path = "ffmpeg"
	}
	return &ExecRunner{logger: logger, path: path}
}

func (r *ExecRunner) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.path, args...)
	hideWindow(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("ffmpeg finished", "output", filepath.Base(args[len(args)-1]), "elapsed_ms", time.Since(start).Milliseconds())
	if err == nil {
		return nil
	}

	tail := output.String()
	if len(tail) > maxErrorOutput {
		tail = tail[len(tail)-maxErrorOutput:]
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return NewEngineError(filepath.Base(r.path), exitErr.ExitCode(), tail, err)
	}
	return fmt.Errorf("failed to run %s: %w", r.path, err)
}
