package segments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GuardOptions bounds the wait for a segment to be closed by its writer
type GuardOptions struct {
	PollInterval time.Duration
	MaxRetries   int
	StableFor    time.Duration
}

// DefaultGuardOptions returns the completion guard defaults (15 polls, 1s apart)
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		PollInterval: time.Second,
		MaxRetries:   15,
		StableFor:    time.Second,
	}
}

// IsComplete reports whether the writer has moved past seg: the encoder listed it
// in its playlist, a newer segment of the same track exists, or the file has not
// been modified for StableFor.
func (s *Store) IsComplete(seg Segment, stableFor time.Duration) (bool, error) {
	// the segment muxer only appends closed segments to the list
	if entries, err := s.PlaylistEntries(seg.Track); err == nil {
		name := filepath.Base(seg.Path)
		for _, entry := range entries {
			if filepath.Base(entry) == name {
				return true, nil
			}
		}
	}

	all, err := s.ListSegments(seg.Track)
	if err != nil {
		return false, err
	}
	for _, other := range all {
		if other.StartMs > seg.StartMs {
			return true, nil
		}
	}

	info, err := os.Stat(seg.Path)
	if err != nil {
		return false, fmt.Errorf("failed to stat segment: %w", err)
	}
	return s.now().Sub(info.ModTime()) > stableFor, nil
}

// WaitForCompletion polls until seg is complete or the retries are exhausted.
// It returns false without error on timeout; callers proceed best-effort.
func (s *Store) WaitForCompletion(ctx context.Context, seg Segment, opts GuardOptions) (bool, error) {
	for attempt := 0; ; attempt++ {
		complete, err := s.IsComplete(seg, opts.StableFor)
		if err != nil {
			s.logger.Debug("Completion check failed", "segment", filepath.Base(seg.Path), "error", err)
		}
		if complete {
			if attempt > 0 {
				s.logger.Debug("Segment completed", "segment", filepath.Base(seg.Path), "polls", attempt)
			}
			return true, nil
		}
		if attempt >= opts.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}

	s.logger.Warn("Segment still being written, proceeding anyway", "segment", filepath.Base(seg.Path), "retries", opts.MaxRetries)
	return false, nil
}
