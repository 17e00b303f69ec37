package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

const (
	DefaultSamples       = 5
	DefaultInterval      = 15 * time.Minute
	DefaultSampleSpacing = 100 * time.Millisecond
)

// Sample is one offset measurement against the reference clock
type Sample struct {
	Offset    time.Duration // reference minus local
	RoundTrip time.Duration
}

// TimeSource measures the local clock against a reference clock
type TimeSource interface {
	Sample(ctx context.Context) (Sample, error)
}

// Settings configures a Manager
type Settings struct {
	Samples       int
	Interval      time.Duration
	SampleSpacing time.Duration
}

// Manager keeps the signed offset between the network clock and the local clock.
// Reads never block; the offset is only replaced by a successful sync.
type Manager struct {
	logger   logging.Logger
	source   TimeSource
	settings Settings
	offsetMs atomic.Int64
	synced   atomic.Bool
	lastSync atomic.Int64 // unix ms of the last successful sync
	now      func() time.Time
}

// NewManager creates a new clock sync manager with a zero initial offset
func NewManager(logger logging.Logger, source TimeSource, settings Settings) *Manager {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settings.Samples <= 0 {
		settings.Samples = DefaultSamples
	}
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}
	if settings.SampleSpacing <= 0 {
		settings.SampleSpacing = DefaultSampleSpacing
	}

	return &Manager{
		logger:   logger,
		source:   source,
		settings: settings,
		now:      time.Now,
	}
}

// Offset returns the current offset in milliseconds (network - local)
func (m *Manager) Offset() int64 {
	return m.offsetMs.Load()
}

// Synced reports whether at least one sync has succeeded
func (m *Manager) Synced() bool {
	return m.synced.Load()
}

// LastSync returns the time of the last successful sync, zero if none
func (m *Manager) LastSync() time.Time {
	ms := m.lastSync.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LocalTimeMs returns the local wall clock in epoch milliseconds
func (m *Manager) LocalTimeMs() int64 {
	return m.now().UnixMilli()
}

// CorrectedTimeMs returns the local wall clock corrected to network time
func (m *Manager) CorrectedTimeMs() int64 {
	return ToNetwork(m.LocalTimeMs(), m.Offset())
}

// Sync takes several samples and stores the offset of the one with the lowest
// round trip. If every sample fails the previous offset is kept and an error is returned.
func (m *Manager) Sync(ctx context.Context) error {
	var (
		best     Sample
		found    bool
		lastErr  error
		failures int
	)

	for i := 0; i < m.settings.Samples; i++ {
		if i > 0 && m.settings.SampleSpacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.settings.SampleSpacing):
			}
		}

		sample, err := m.source.Sample(ctx)
		if err != nil {
			failures++
			lastErr = err
			m.logger.Debug("Clock sample failed", "attempt", i+1, "error", err)
			continue
		}

		if !found || sample.RoundTrip < best.RoundTrip {
			best = sample
			found = true
		}
	}

	if !found {
		if lastErr == nil {
			lastErr = errors.New("no samples taken")
		}
		m.logger.Warn("Clock sync failed, keeping previous offset", "offset_ms", m.Offset(), "error", lastErr)
		return fmt.Errorf("clock sync failed after %d attempts: %w", failures, lastErr)
	}

	offset := best.Offset.Milliseconds()
	m.offsetMs.Store(offset)
	m.synced.Store(true)
	m.lastSync.Store(m.now().UnixMilli())
	m.logger.Info("Clock synchronized", "offset_ms", offset, "round_trip_ms", best.RoundTrip.Milliseconds(), "failed_samples", failures)
	return nil
}

// Run syncs immediately and then on every interval until the context is cancelled
func (m *Manager) Run(ctx context.Context) {
	_ = m.Sync(ctx)

	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Sync(ctx)
		}
	}
}

// ToNetwork converts a local epoch ms value to network time
func ToNetwork(localMs, offsetMs int64) int64 {
	return localMs + offsetMs
}

// ToLocal converts a network epoch ms value to local time
func ToLocal(networkMs, offsetMs int64) int64 {
	return networkMs - offsetMs
}
