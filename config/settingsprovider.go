package config

import (
	"os"
	"sync"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

type SettingsProvider[T any] interface {
	// GetSettings returns the current settings of type T.
	GetSettings() T
}

// StaticSettingsProvider always returns the same settings value
type StaticSettingsProvider[T any] struct {
	Settings T
}

func (p StaticSettingsProvider[T]) GetSettings() T {
	return p.Settings
}

const (
	// DefaultReloadCheckInterval is how often the config file's mtime is checked
	DefaultReloadCheckInterval = 5 * time.Second
)

// FileConfigProvider serves the configuration loaded from a file and reloads it
// when the file changes on disk. An invalid edit keeps the last good configuration.
type FileConfigProvider struct {
	logger        logging.Logger
	path          string
	mutex         sync.RWMutex
	cached        *Config
	cachedModTime time.Time
	lastCheck     time.Time
	checkInterval time.Duration
	now           func() time.Time
}

// NewFileConfigProvider creates a provider seeded with an already validated configuration
func NewFileConfigProvider(logger logging.Logger, path string, initial *Config, checkInterval time.Duration) *FileConfigProvider {
	if logger == nil {
		logger = logging.NopLogger
	}
	if checkInterval == 0 {
		checkInterval = DefaultReloadCheckInterval
	}

	p := &FileConfigProvider{
		logger:        logger,
		path:          path,
		cached:        initial,
		checkInterval: checkInterval,
		now:           time.Now,
	}
	if info, err := os.Stat(path); err == nil {
		p.cachedModTime = info.ModTime()
	}
	return p
}

// GetSettings returns the current configuration, reloading it first if the file changed
func (p *FileConfigProvider) GetSettings() *Config {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	if now.Sub(p.lastCheck) < p.checkInterval {
		return p.cached
	}
	p.lastCheck = now

	info, err := os.Stat(p.path)
	if err != nil || !info.ModTime().After(p.cachedModTime) {
		return p.cached
	}

	reloaded, err := LoadConfig(p.path)
	if err == nil {
		err = reloaded.Validate()
	}
	if err != nil {
		p.logger.Warn("Ignoring invalid configuration change", "path", p.path, "error", err)
		p.cachedModTime = info.ModTime()
		return p.cached
	}

	p.logger.Info("Configuration reloaded", "path", p.path)
	p.cached = reloaded
	p.cachedModTime = info.ModTime()
	return p.cached
}

// PinnedConfigProvider layers command line overrides over a reloading provider and
// keeps the buffer layout of the startup configuration. The segment store and the
// retention sweeper are built once, so capture must never move to another buffer.
type PinnedConfigProvider struct {
	logger    logging.Logger
	source    SettingsProvider[*Config]
	startup   *Config
	overrides ConfigOverrides

	mutex    sync.Mutex
	lastGood *Config
	rejected *Config
}

// NewPinnedConfigProvider creates a provider for the validated startup configuration,
// which must already have the overrides applied
func NewPinnedConfigProvider(logger logging.Logger, source SettingsProvider[*Config], startup *Config, overrides ConfigOverrides) *PinnedConfigProvider {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &PinnedConfigProvider{
		logger:    logger,
		source:    source,
		startup:   startup,
		overrides: overrides,
		lastGood:  startup,
	}
}

// GetSettings returns the current configuration with the overrides re-applied
func (p *PinnedConfigProvider) GetSettings() *Config {
	current := p.source.GetSettings()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	merged := *current
	merged.Override(p.overrides)
	merged.BufferDir = p.startup.BufferDir
	merged.SegmentSeconds = p.startup.SegmentSeconds
	merged.RetentionSeconds = p.startup.RetentionSeconds

	if err := merged.Validate(); err != nil {
		if current != p.rejected {
			p.rejected = current
			p.logger.Warn("Configuration change conflicts with the running buffer, keeping previous settings", "error", err)
		}
		return p.lastGood
	}

	p.lastGood = &merged
	return p.lastGood
}
