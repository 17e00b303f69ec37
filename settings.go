package main

import (
	"github.com/yeti47/replaybuffer/capture"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/replay"
	"github.com/yeti47/replaybuffer/segments"
)

// captureSettingsProvider maps the current configuration to capture session settings
type captureSettingsProvider struct {
	source config.SettingsProvider[*config.Config]
}

func (p captureSettingsProvider) GetSettings() capture.Settings {
	return captureSettings(p.source.GetSettings())
}

// replaySettingsProvider maps the current configuration to replay request settings
type replaySettingsProvider struct {
	logger logging.Logger
	source config.SettingsProvider[*config.Config]
}

func (p replaySettingsProvider) GetSettings() replay.Settings {
	cfg := p.source.GetSettings()
	settings := replaySettings(cfg)

	outputDir, err := cfg.ResolveOutputDir()
	if err != nil {
		// the stitcher reports an empty output dir as a configuration error
		p.logger.Error("Failed to resolve output directory", "error", err)
	}
	settings.OutputDir = outputDir
	return settings
}

func captureSettings(cfg *config.Config) capture.Settings {
	return capture.Settings{
		FFmpegPath:      cfg.FFmpegPath,
		BufferDir:       cfg.BufferDir,
		SegmentDuration: cfg.SegmentDuration(),
		Video: ffmpeg.VideoSettings{
			InputFormat: cfg.Video.InputFormat,
			InputSource: cfg.Video.InputSource,
			Framerate:   cfg.Video.Framerate,
			Bitrate:     cfg.Video.Bitrate,
			Preset:      cfg.Video.Preset,
			Tune:        cfg.Video.Tune,
			Resolution:  cfg.Video.Resolution,
		},
		EncoderPreference: cfg.Video.Encoder,
		Microphone:        audioInput("microphone", cfg.Audio.Microphone),
		SystemAudio:       audioInput("system", cfg.Audio.System),
		Mix:               audioMix(cfg.Audio),
		StopGrace:         cfg.StopGrace(),
	}
}

func replaySettings(cfg *config.Config) replay.Settings {
	return replay.Settings{
		ReplayDuration:       cfg.ReplayDuration(),
		FlushWait:            replay.DefaultFlushWait,
		Guard:                segments.DefaultGuardOptions(),
		CopyAttempts:         segments.DefaultCopyAttempts,
		CopyBackoff:          segments.DefaultCopyBackoff,
		AudioCatchUpAttempts: replay.DefaultAudioCatchUpAttempts,
		AudioCatchUpDelay:    replay.DefaultAudioCatchUpDelay,
		AudioLagTolerance:    replay.DefaultAudioLagTolerance,
		Mix:                  audioMix(cfg.Audio),
	}
}

func audioMix(audio config.AudioConfig) ffmpeg.AudioMix {
	return ffmpeg.AudioMix{
		SampleRate:      audio.SampleRate,
		Channels:        audio.Channels,
		SegmentCodec:    audio.SegmentCodec,
		DeliveryCodec:   audio.DeliveryCodec,
		DeliveryBitrate: audio.DeliveryBitrate,
	}
}

func audioInput(label string, src *config.AudioSourceConfig) *ffmpeg.AudioInput {
	if src == nil {
		return nil
	}

	kind := ffmpeg.InputPipe
	if src.Kind == config.AudioSourceDevice {
		kind = ffmpeg.InputDevice
	}
	return &ffmpeg.AudioInput{
		Label:      label,
		Kind:       kind,
		Name:       src.Name,
		Format:     src.Format,
		SampleRate: src.SampleRate,
		Channels:   src.Channels,
	}
}
