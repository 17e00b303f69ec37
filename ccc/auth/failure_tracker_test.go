package auth

import (
	"testing"
	"time"
)

func TestMemoryFailureTracker_RecordFailure(t *testing.T) {
	tracker := NewMemoryFailureTracker(LockoutSettings{Threshold: 5, TimeWindow: time.Hour})
	source := "192.168.1.100"
	now := time.Now()

	for i := 1; i <= 3; i++ {
		count := tracker.RecordFailure(source, now.Add(time.Duration(i)*time.Minute))
		if count != i {
			t.Errorf("Expected failure count %d, got %d", i, count)
		}
	}

	// Failures from other sources don't interfere
	if count := tracker.RecordFailure("10.0.0.1", now.Add(4*time.Minute)); count != 1 {
		t.Errorf("Expected failure count 1 for other source, got %d", count)
	}

	if count := tracker.RecordFailure(source, now.Add(5*time.Minute)); count != 4 {
		t.Errorf("Expected failure count 4 for original source, got %d", count)
	}
}

func TestMemoryFailureTracker_TimeWindow(t *testing.T) {
	tracker := NewMemoryFailureTracker(LockoutSettings{Threshold: 5, TimeWindow: 10 * time.Minute})
	source := "192.168.1.100"
	now := time.Now()

	tracker.RecordFailure(source, now)
	tracker.RecordFailure(source, now.Add(2*time.Minute))
	tracker.RecordFailure(source, now.Add(5*time.Minute))

	// The cutoff is now+5min, so only now+5min and now+15min count
	if count := tracker.RecordFailure(source, now.Add(15*time.Minute)); count != 2 {
		t.Errorf("Expected failure count 2 (within time window), got %d", count)
	}
}

func TestMemoryFailureTracker_IsLockedOut(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		failures  int
		want      bool
	}{
		{"below threshold", 3, 2, false},
		{"at threshold", 3, 3, true},
		{"above threshold", 3, 4, true},
		{"disabled", 0, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewMemoryFailureTracker(LockoutSettings{Threshold: tt.threshold, TimeWindow: time.Hour})
			now := time.Now()
			for i := 0; i < tt.failures; i++ {
				tracker.RecordFailure("src", now)
			}
			if got := tracker.IsLockedOut("src", now); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMemoryFailureTracker_Reset(t *testing.T) {
	tracker := NewMemoryFailureTracker(LockoutSettings{Threshold: 2, TimeWindow: time.Hour})
	now := time.Now()

	tracker.RecordFailure("a", now)
	tracker.RecordFailure("a", now)
	tracker.RecordFailure("b", now)

	tracker.Reset("a")

	if tracker.IsLockedOut("a", now) {
		t.Error("Expected source a to be unlocked after reset")
	}
	if count := tracker.RecordFailure("b", now); count != 2 {
		t.Errorf("Expected reset to keep other sources, got count %d", count)
	}
}
