package replay

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	clocksync "github.com/yeti47/replaybuffer/clock-sync"
	"github.com/yeti47/replaybuffer/segments"
)

// EpochThresholdMs separates absolute container start times from relative ones.
// Probed values at or below 2000-01-01T00:00:00Z are treated as stream-relative.
const EpochThresholdMs int64 = 946684800000

// ResolveTrigger returns the trigger in network time: the supplied value when present,
// otherwise the corrected local clock.
func ResolveTrigger(triggerEpochMs *int64, localNowMs, offsetMs int64) int64 {
	if triggerEpochMs != nil {
		return *triggerEpochMs
	}
	return clocksync.ToNetwork(localNowMs, offsetMs)
}

// WindowFor returns the replay window ending at the local trigger time
func WindowFor(triggerLocalMs int64, duration time.Duration) segments.Window {
	return segments.Window{
		StartMs: triggerLocalMs - duration.Milliseconds(),
		EndMs:   triggerLocalMs,
	}
}

// EmbeddedStartMs picks the track start: the probed container start time when it is
// an absolute epoch value, otherwise fallbackMs.
func EmbeddedStartMs(probedSeconds float64, ok bool, fallbackMs int64) int64 {
	if !ok {
		return fallbackMs
	}
	ms := int64(math.Round(probedSeconds * 1000))
	if ms > EpochThresholdMs {
		return ms
	}
	return fallbackMs
}

// TrimOffset is how much of a track starting at trackStartMs has to be skipped so the
// clip starts at targetStartMs. It is never negative.
func TrimOffset(targetStartMs, trackStartMs int64) time.Duration {
	if targetStartMs <= trackStartMs {
		return 0
	}
	return time.Duration(targetStartMs-trackStartMs) * time.Millisecond
}

// OutputName returns the clip file name for a trigger time
func OutputName(trigger time.Time) string {
	return fmt.Sprintf("Replay_%s.mp4", trigger.Format("2006-01-02_15-04-05"))
}

// uniqueOutputPath returns a path in dir that does not exist yet
func uniqueOutputPath(dir string, trigger time.Time, id string) string {
	path := filepath.Join(dir, OutputName(trigger))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	return filepath.Join(dir, fmt.Sprintf("Replay_%s_%s.mp4", trigger.Format("2006-01-02_15-04-05"), id[:8]))
}
