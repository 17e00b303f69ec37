package ffmpeg

import (
	"strings"
	"sync"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

// DefaultProgressInterval is the minimum time between two progress log records
const DefaultProgressInterval = 5 * time.Second

// Progress is the last reported encoder status
type Progress struct {
	Time    string
	FPS     string
	Bitrate string
	Speed   string
	Dup     string
	Drop    string
}

// ParseProgress extracts the status fields from an ffmpeg progress line
func ParseProgress(line string) (Progress, bool) {
	if !strings.Contains(line, "time=") {
		return Progress{}, false
	}
	if !strings.Contains(line, "frame=") && !strings.Contains(line, "size=") {
		return Progress{}, false
	}

	return Progress{
		Time:    extractValue(line, "time="),
		FPS:     extractValue(line, "fps="),
		Bitrate: extractValue(line, "bitrate="),
		Speed:   extractValue(line, "speed="),
		Dup:     extractValue(line, "dup="),
		Drop:    extractValue(line, "drop="),
	}, true
}

// extractValue returns the whitespace-delimited value following key
func extractValue(line, key string) string {
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(line[idx+len(key):], " \t")
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// ProgressMonitor consumes encoder output lines. Progress lines are logged at most
// once per interval, everything else is passed through at debug level.
type ProgressMonitor struct {
	logger   logging.Logger
	name     string
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastLog   time.Time
	logged    bool
	latest    Progress
	hasLatest bool
}

// NewProgressMonitor creates a monitor for the named process
func NewProgressMonitor(logger logging.Logger, name string, interval time.Duration) *ProgressMonitor {
	if logger == nil {
		logger = logging.NopLogger
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	return &ProgressMonitor{
		logger:   logger,
		name:     name,
		interval: interval,
		now:      time.Now,
	}
}

// HandleLine processes one line of encoder output. Safe for concurrent use by the
// stdout and stderr readers.
func (m *ProgressMonitor) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	progress, ok := ParseProgress(line)
	if !ok {
		m.logger.Debug("ffmpeg output", "process", m.name, "line", line)
		return
	}

	m.mu.Lock()
	m.latest = progress
	m.hasLatest = true
	now := m.now()
	shouldLog := !m.logged || now.Sub(m.lastLog) >= m.interval
	if shouldLog {
		m.lastLog = now
		m.logged = true
	}
	m.mu.Unlock()

	if shouldLog {
		m.logger.Info("Recording",
			"process", m.name,
			"time", progress.Time,
			"fps", progress.FPS,
			"bitrate", progress.Bitrate,
			"speed", progress.Speed,
			"dup", progress.Dup,
			"drop", progress.Drop,
		)
	}
}

// Latest returns the most recent progress report
func (m *ProgressMonitor) Latest() (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasLatest
}
