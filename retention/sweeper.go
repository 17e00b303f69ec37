package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/segments"
)

// Sweep deletes segment files in dir whose filename timestamp is more than retention
// older than now. Other files and directories are never touched. Individual delete
// failures are skipped and reported through the returned error.
func Sweep(dir string, retention time.Duration, now time.Time, loc *time.Location) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list buffer directory: %w", err)
	}

	nowMs := now.UnixMilli()
	limitMs := retention.Milliseconds()

	var (
		deleted  []string
		failures int
		lastErr  error
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_, startMs, ok := segments.ParseSegmentName(entry.Name(), loc)
		if !ok || nowMs-startMs <= limitMs {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			// the writer may still hold the file; it is retried on the next sweep
			failures++
			lastErr = err
			continue
		}
		deleted = append(deleted, path)
	}

	if failures > 0 {
		return deleted, fmt.Errorf("failed to delete %d expired segments: %w", failures, lastErr)
	}
	return deleted, nil
}

// Sweeper periodically enforces the retention period on a buffer directory
type Sweeper struct {
	logger    logging.Logger
	dir       string
	retention time.Duration
	loc       *time.Location
	now       func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
	total     int
}

// NewSweeper creates a new Sweeper
func NewSweeper(logger logging.Logger, dir string, retention time.Duration, loc *time.Location) *Sweeper {
	if logger == nil {
		logger = logging.NopLogger
	}
	if loc == nil {
		loc = time.Local
	}

	return &Sweeper{
		logger:    logger,
		dir:       dir,
		retention: retention,
		loc:       loc,
		now:       time.Now,
	}
}

// Sweep runs one retention pass and returns the number of deleted segments
func (s *Sweeper) Sweep() int {
	now := s.now()
	deleted, err := Sweep(s.dir, s.retention, now, s.loc)
	if err != nil {
		s.logger.Warn("Retention sweep incomplete", "dir", s.dir, "error", err)
	}

	s.mu.Lock()
	s.lastSweep = now
	s.total += len(deleted)
	s.mu.Unlock()

	if len(deleted) > 0 {
		s.logger.Debug("Expired segments deleted", "count", len(deleted), "retention_seconds", int(s.retention.Seconds()))
	}
	return len(deleted)
}

// LastSweep returns when the sweeper last ran
func (s *Sweeper) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// TotalDeleted returns how many segments this sweeper has deleted
func (s *Sweeper) TotalDeleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
