package segments

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Track identifies one of the independently encoded streams
type Track string

const (
	TrackVideo Track = "video"
	TrackAudio Track = "audio"
)

// FilenameTimeLayout is the strftime-compatible layout used in segment filenames
const FilenameTimeLayout = "20060102150405"

var segmentNamePattern = regexp.MustCompile(`^(video|audio)_(\d{14})(\d{3})?\.([A-Za-z0-9]+)$`)

// Segment is one fixed-duration media file of a track
type Segment struct {
	Track   Track
	StartMs int64 // wall-clock start parsed from the filename, epoch ms
	Path    string
}

// EndMs returns the nominal end of the segment
func (s Segment) EndMs(nominal time.Duration) int64 {
	return s.StartMs + nominal.Milliseconds()
}

// Window is a half-open time range in local epoch milliseconds
type Window struct {
	StartMs int64
	EndMs   int64
}

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	return time.Duration(w.EndMs-w.StartMs) * time.Millisecond
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.StartMs, w.EndMs)
}

// Overlaps reports whether a segment of the given nominal duration intersects the window
func (w Window) Overlaps(seg Segment, nominal time.Duration) bool {
	return seg.EndMs(nominal) > w.StartMs && seg.StartMs < w.EndMs
}

// ParseSegmentName parses a segment filename. Timestamps are interpreted in loc,
// which must match the time zone the capture process formatted them in.
func ParseSegmentName(name string, loc *time.Location) (Track, int64, bool) {
	m := segmentNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}

	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(FilenameTimeLayout, m[2], loc)
	if err != nil {
		return "", 0, false
	}

	startMs := ts.UnixMilli()
	if m[3] != "" {
		millis, err := strconv.Atoi(m[3])
		if err != nil {
			return "", 0, false
		}
		startMs += int64(millis)
	}

	return Track(m[1]), startMs, true
}

// IsSegmentName reports whether name is a segment file of any track
func IsSegmentName(name string) bool {
	return segmentNamePattern.MatchString(name)
}

// FormatSegmentName builds the filename for a segment starting at t
func FormatSegmentName(track Track, t time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", track, t.Format(FilenameTimeLayout), ext)
}

// FilenamePattern returns the strftime output pattern the encoder writes segments with
func FilenamePattern(track Track, ext string) string {
	return fmt.Sprintf("%s_%%Y%%m%%d%%H%%M%%S.%s", track, ext)
}

// StitchDirPrefix starts the names of per-replay working directories in the buffer
const StitchDirPrefix = "stitch_"

// StitchDirName returns the working directory name of one replay request
func StitchDirName(startedMs int64, id string) string {
	return fmt.Sprintf("%s%d_%s", StitchDirPrefix, startedMs, id)
}

// IsStitchDirName reports whether name is a replay working directory
func IsStitchDirName(name string) bool {
	return strings.HasPrefix(name, StitchDirPrefix)
}

// PlaylistName returns the liveness playlist filename of a track
func PlaylistName(track Track) string {
	return string(track) + "_list.m3u8"
}
