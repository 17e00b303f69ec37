package segments

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

// Store answers time-range queries over the segment files in the buffer directory.
// It never writes segments; the capture process owns the directory contents.
type Store struct {
	logger  logging.Logger
	dir     string
	nominal time.Duration
	loc     *time.Location
	now     func() time.Time
}

// NewStore creates a store over dir. nominal is the configured segment duration and
// loc the time zone segment filenames are written in (nil means local time).
func NewStore(logger logging.Logger, dir string, nominal time.Duration, loc *time.Location) *Store {
	if logger == nil {
		logger = logging.NopLogger
	}
	if loc == nil {
		loc = time.Local
	}

	return &Store{
		logger:  logger,
		dir:     dir,
		nominal: nominal,
		loc:     loc,
		now:     time.Now,
	}
}

// Dir returns the buffer directory
func (s *Store) Dir() string {
	return s.dir
}

// SegmentDuration returns the nominal segment duration
func (s *Store) SegmentDuration() time.Duration {
	return s.nominal
}

// Location returns the time zone of segment filenames
func (s *Store) Location() *time.Location {
	return s.loc
}

// ListSegments returns every segment of the track sorted by start time.
// A missing buffer directory yields an empty list.
func (s *Store) ListSegments(track Track) ([]Segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list buffer directory: %w", err)
	}

	var result []Segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		t, startMs, ok := ParseSegmentName(entry.Name(), s.loc)
		if !ok || t != track {
			continue
		}
		result = append(result, Segment{
			Track:   t,
			StartMs: startMs,
			Path:    filepath.Join(s.dir, entry.Name()),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartMs < result[j].StartMs
	})
	return result, nil
}

// FindSegments returns the segments of the track overlapping the window in ascending
// start order, or a NoSegmentsError if there are none.
func (s *Store) FindSegments(track Track, window Window) ([]Segment, error) {
	all, err := s.ListSegments(track)
	if err != nil {
		return nil, err
	}

	var result []Segment
	for _, seg := range all {
		if window.Overlaps(seg, s.nominal) {
			result = append(result, seg)
		}
	}

	if len(result) == 0 {
		return nil, NewNoSegmentsError(track, window)
	}

	s.logger.Debug("Segments selected", "track", track, "window", window.String(), "count", len(result),
		"first", filepath.Base(result[0].Path), "last", filepath.Base(result[len(result)-1].Path))
	return result, nil
}

// Latest returns the newest segment of the track
func (s *Store) Latest(track Track) (Segment, bool, error) {
	all, err := s.ListSegments(track)
	if err != nil || len(all) == 0 {
		return Segment{}, false, err
	}
	return all[len(all)-1], true, nil
}
