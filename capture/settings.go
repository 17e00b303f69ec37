package capture

import (
	"time"

	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/segments"
)

const (
	DefaultStopGrace     = 5 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultControlTick   = time.Second

	// abandonedStitchAge is far beyond the longest replay stitch
	abandonedStitchAge = 10 * time.Minute
)

// Settings is read once at the start of every capture session
type Settings struct {
	FFmpegPath        string
	BufferDir         string
	SegmentDuration   time.Duration
	SegmentExtension  string
	Video             ffmpeg.VideoSettings
	EncoderPreference string
	Microphone        *ffmpeg.AudioInput
	SystemAudio       *ffmpeg.AudioInput
	Mix               ffmpeg.AudioMix
	StopGrace         time.Duration
	ProgressInterval  time.Duration
}

func (s Settings) stopGrace() time.Duration {
	if s.StopGrace <= 0 {
		return DefaultStopGrace
	}
	return s.StopGrace
}

func (s Settings) output(track segments.Track) ffmpeg.SegmentOutput {
	return ffmpeg.SegmentOutput{
		Dir:         s.BufferDir,
		Track:       track,
		SegmentTime: s.SegmentDuration,
		Extension:   s.SegmentExtension,
	}
}
