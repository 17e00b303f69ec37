package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Audio source kinds
const (
	AudioSourcePipe   = "pipe"
	AudioSourceDevice = "device"
)

// Config holds the configuration for the replay buffer engine
type Config struct {
	BufferDir    string `json:"buffer_dir"`
	OutputDir    string `json:"output_dir"` // empty means ~/Videos/ReplayBuffer
	DatabasePath string `json:"database_path"`
	LogPath      string `json:"log_path"`
	LogLevel     string `json:"log_level"`
	LogToConsole bool   `json:"log_to_console"`
	HTTPAddr     string `json:"http_addr"` // empty disables the trigger API
	// TrustedProxies is only honored by release builds
	TrustedProxies []string `json:"trusted_proxies,omitempty"`
	FFmpegPath     string   `json:"ffmpeg_path"`
	FFprobePath    string   `json:"ffprobe_path"`
	AutoStart      bool     `json:"auto_start"`

	SegmentSeconds       int `json:"segment_seconds"`
	ReplaySeconds        int `json:"replay_seconds"`
	RetentionSeconds     int `json:"retention_seconds"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	StopGraceSeconds     int `json:"stop_grace_seconds"`

	Video   VideoConfig   `json:"video"`
	Audio   AudioConfig   `json:"audio"`
	Clock   ClockConfig   `json:"clock"`
	Trigger TriggerConfig `json:"trigger"`
}

// VideoConfig describes the screen capture input and its encoding
type VideoConfig struct {
	Encoder     string `json:"encoder"` // auto, nvenc, amf, qsv, vaapi or x264
	Framerate   int    `json:"framerate"`
	Bitrate     string `json:"bitrate"`
	Preset      string `json:"preset"`
	Tune        string `json:"tune"`
	Resolution  string `json:"resolution"` // empty keeps the source size
	InputFormat string `json:"input_format"`
	InputSource string `json:"input_source"`
}

// AudioSourceConfig selects one audio input: a named byte stream or a device selector
type AudioSourceConfig struct {
	Kind       string `json:"kind"`   // pipe or device
	Name       string `json:"name"`   // pipe path or device selector
	Format     string `json:"format"` // raw sample format for pipes, capture backend for devices
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// AudioConfig holds the audio sources and the shared mix parameters
type AudioConfig struct {
	Microphone      *AudioSourceConfig `json:"microphone,omitempty"`
	System          *AudioSourceConfig `json:"system,omitempty"`
	SegmentCodec    string             `json:"segment_codec"`
	DeliveryCodec   string             `json:"delivery_codec"`
	DeliveryBitrate string             `json:"delivery_bitrate"`
	SampleRate      int                `json:"sample_rate"`
	Channels        int                `json:"channels"`
}

// ClockConfig configures network time synchronization
type ClockConfig struct {
	Disabled        bool   `json:"disabled"`
	Server          string `json:"server"`
	Samples         int    `json:"samples"`
	IntervalMinutes int    `json:"interval_minutes"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// TriggerConfig secures the remote trigger API
type TriggerConfig struct {
	TokenHash            string `json:"token_hash"`
	TokenSalt            string `json:"token_salt"`
	LockoutThreshold     int    `json:"lockout_threshold"`
	LockoutWindowSeconds int    `json:"lockout_window_seconds"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	dataDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dataDir = filepath.Join(homeDir, ".replaybuffer")
	}

	inputFormat, inputSource := defaultVideoInput()

	return &Config{
		BufferDir:    filepath.Join(os.TempDir(), "replaybuffer"),
		DatabasePath: filepath.Join(dataDir, "replays.db"),
		LogPath:      filepath.Join(dataDir, "logs"),
		LogLevel:     "info",
		HTTPAddr:     "127.0.0.1:8765",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		AutoStart:    true,

		SegmentSeconds:       2,
		ReplaySeconds:        60,
		RetentionSeconds:     300,
		SweepIntervalSeconds: 30,
		StopGraceSeconds:     5,

		Video: VideoConfig{
			Encoder:     "auto",
			Framerate:   60,
			Bitrate:     "15M",
			Preset:      "ultrafast",
			Tune:        "zerolatency",
			InputFormat: inputFormat,
			InputSource: inputSource,
		},
		Audio: AudioConfig{
			SegmentCodec:    "pcm_s16le",
			DeliveryCodec:   "aac",
			DeliveryBitrate: "192k",
			SampleRate:      48000,
			Channels:        2,
		},
		Clock: ClockConfig{
			Server:          "pool.ntp.org",
			Samples:         5,
			IntervalMinutes: 15,
			TimeoutSeconds:  5,
		},
		Trigger: TriggerConfig{
			LockoutThreshold:     5,
			LockoutWindowSeconds: 300,
		},
	}
}

func defaultVideoInput() (format, source string) {
	switch runtime.GOOS {
	case "windows":
		return "gdigrab", "desktop"
	case "darwin":
		return "avfoundation", "1:none"
	default:
		return "x11grab", ":0.0"
	}
}

// LoadConfig loads the configuration from a JSON file.
// A missing file yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BufferDir == "" {
		return NewConfigurationError("buffer_dir", "must not be empty")
	}
	if c.FFmpegPath == "" {
		return NewConfigurationError("ffmpeg_path", "must not be empty")
	}
	if c.SegmentSeconds <= 0 {
		return NewConfigurationError("segment_seconds", fmt.Sprintf("must be positive, got %d", c.SegmentSeconds))
	}
	if c.ReplaySeconds <= 0 {
		return NewConfigurationError("replay_seconds", fmt.Sprintf("must be positive, got %d", c.ReplaySeconds))
	}
	// retention must cover a full replay window plus the segment still being written
	if c.RetentionSeconds < c.ReplaySeconds+c.SegmentSeconds {
		return NewConfigurationError("retention_seconds",
			fmt.Sprintf("must be at least replay_seconds + segment_seconds (%d), got %d", c.ReplaySeconds+c.SegmentSeconds, c.RetentionSeconds))
	}
	if c.SweepIntervalSeconds <= 0 {
		return NewConfigurationError("sweep_interval_seconds", "must be positive")
	}
	if c.StopGraceSeconds <= 0 {
		return NewConfigurationError("stop_grace_seconds", "must be positive")
	}
	if c.Video.Framerate <= 0 {
		return NewConfigurationError("video.framerate", "must be positive")
	}
	switch c.Video.Encoder {
	case "", "auto", "nvenc", "amf", "qsv", "vaapi", "x264":
	default:
		return NewConfigurationError("video.encoder", fmt.Sprintf("unknown encoder %q", c.Video.Encoder))
	}
	for name, src := range map[string]*AudioSourceConfig{"audio.microphone": c.Audio.Microphone, "audio.system": c.Audio.System} {
		if src == nil {
			continue
		}
		if src.Kind != AudioSourcePipe && src.Kind != AudioSourceDevice {
			return NewConfigurationError(name+".kind", fmt.Sprintf("must be %q or %q, got %q", AudioSourcePipe, AudioSourceDevice, src.Kind))
		}
		if src.Name == "" {
			return NewConfigurationError(name+".name", "must not be empty")
		}
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return NewConfigurationError("audio", "sample_rate and channels must be positive")
	}
	if !c.Clock.Disabled && c.Clock.Samples <= 0 {
		return NewConfigurationError("clock.samples", "must be positive")
	}
	return nil
}

// ResolveOutputDir returns the directory final clips are written to
func (c *Config) ResolveOutputDir() (string, error) {
	if c.OutputDir != "" {
		return c.OutputDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "", NewConfigurationError("output_dir", "not set and the user's home directory cannot be resolved")
	}
	return filepath.Join(homeDir, "Videos", "ReplayBuffer"), nil
}

func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds) * time.Second
}

func (c *Config) ReplayDuration() time.Duration {
	return time.Duration(c.ReplaySeconds) * time.Second
}

func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	BufferDir      *string
	OutputDir      *string
	HTTPAddr       *string
	LogLevel       *string
	FFmpegPath     *string
	Encoder        *string
	ReplaySeconds  *int
	SegmentSeconds *int
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.BufferDir != nil && *overrides.BufferDir != "" {
		c.BufferDir = *overrides.BufferDir
	}
	if overrides.OutputDir != nil && *overrides.OutputDir != "" {
		c.OutputDir = *overrides.OutputDir
	}
	if overrides.HTTPAddr != nil && *overrides.HTTPAddr != "" {
		c.HTTPAddr = *overrides.HTTPAddr
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.FFmpegPath != nil && *overrides.FFmpegPath != "" {
		c.FFmpegPath = *overrides.FFmpegPath
	}
	if overrides.Encoder != nil && *overrides.Encoder != "" {
		c.Video.Encoder = *overrides.Encoder
	}
	if overrides.ReplaySeconds != nil && *overrides.ReplaySeconds > 0 {
		c.ReplaySeconds = *overrides.ReplaySeconds
	}
	if overrides.SegmentSeconds != nil && *overrides.SegmentSeconds > 0 {
		c.SegmentSeconds = *overrides.SegmentSeconds
	}
}
