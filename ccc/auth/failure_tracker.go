package auth

import (
	"sync"
	"time"
)

// FailureRecord represents a single rejected trigger attempt
type FailureRecord struct {
	Source    string
	Timestamp time.Time
}

// FailureTracker tracks authentication failures per request source
type FailureTracker interface {
	// RecordFailure records a failure and returns the failure count for the source within the time window
	RecordFailure(source string, timestamp time.Time) int
	// IsLockedOut reports whether the source has reached the lockout threshold within the time window
	IsLockedOut(source string, timestamp time.Time) bool
	// Reset forgets all failures of the source
	Reset(source string)
}

// LockoutSettings holds configuration for temporary source lockout
type LockoutSettings struct {
	Threshold  int           // Number of failures that trigger a lockout (0 to disable)
	TimeWindow time.Duration // Time window for counting failures
}

type nopFailureTracker struct{}

var NopFailureTracker FailureTracker = &nopFailureTracker{}

func (n *nopFailureTracker) RecordFailure(source string, timestamp time.Time) int { return 0 }

func (n *nopFailureTracker) IsLockedOut(source string, timestamp time.Time) bool { return false }

func (n *nopFailureTracker) Reset(source string) {}

// memoryFailureTracker implements FailureTracker using in-memory storage
type memoryFailureTracker struct {
	settings      LockoutSettings
	failures      []FailureRecord
	failuresMutex sync.Mutex
}

// NewMemoryFailureTracker creates a new in-memory failure tracker
func NewMemoryFailureTracker(settings LockoutSettings) FailureTracker {
	return &memoryFailureTracker{
		settings: settings,
		failures: make([]FailureRecord, 0),
	}
}

func (t *memoryFailureTracker) RecordFailure(source string, timestamp time.Time) int {
	t.failuresMutex.Lock()
	defer t.failuresMutex.Unlock()

	t.failures = append(t.failures, FailureRecord{Source: source, Timestamp: timestamp})
	t.prune(timestamp)
	return t.count(source)
}

func (t *memoryFailureTracker) IsLockedOut(source string, timestamp time.Time) bool {
	if t.settings.Threshold <= 0 {
		return false
	}

	t.failuresMutex.Lock()
	defer t.failuresMutex.Unlock()

	t.prune(timestamp)
	return t.count(source) >= t.settings.Threshold
}

func (t *memoryFailureTracker) Reset(source string) {
	t.failuresMutex.Lock()
	defer t.failuresMutex.Unlock()

	kept := t.failures[:0]
	for _, failure := range t.failures {
		if failure.Source != source {
			kept = append(kept, failure)
		}
	}
	t.failures = kept
}

// prune drops records older than the time window; the caller holds the mutex
func (t *memoryFailureTracker) prune(now time.Time) {
	cutoffTime := now.Add(-t.settings.TimeWindow)
	valid := make([]FailureRecord, 0, len(t.failures))
	for _, failure := range t.failures {
		if !failure.Timestamp.Before(cutoffTime) {
			valid = append(valid, failure)
		}
	}
	t.failures = valid
}

func (t *memoryFailureTracker) count(source string) int {
	count := 0
	for _, failure := range t.failures {
		if failure.Source == source {
			count++
		}
	}
	return count
}
