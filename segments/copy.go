package segments

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Segment copy retry defaults, for files briefly locked by the writer
const (
	DefaultCopyAttempts = 20
	DefaultCopyBackoff  = 50 * time.Millisecond
)

// CopyWithRetry copies src to dst, retrying transient failures with a fixed backoff
func CopyWithRetry(ctx context.Context, src, dst string, attempts int, backoff time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = copyFile(src, dst); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to copy %s after %d attempts: %w", src, attempts, lastErr)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
