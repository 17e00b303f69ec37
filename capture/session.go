package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/process"
	"github.com/yeti47/replaybuffer/segments"
)

// Session is one running capture: a video-only encoder and an optional audio-only
// encoder writing into the same buffer directory. It is owned by the supervisor loop.
type Session struct {
	Video        Process
	Audio        Process
	VideoStart   time.Time
	AudioStart   time.Time
	BufferDir    string
	Capabilities ffmpeg.Capabilities
	AudioInputs  []ffmpeg.AudioInput

	launcher  Launcher
	monitors  []*ffmpeg.ProgressMonitor
	audioLost bool
}

// HasAudio reports whether an audio encoder was spawned for this session
func (s *Session) HasAudio() bool {
	return s.Audio != nil
}

func (s *Session) processes() []Process {
	procs := []Process{s.Video}
	if s.Audio != nil {
		procs = append(procs, s.Audio)
	}
	return procs
}

// startSession prepares the buffer directory and spawns the encoders. On any
// failure nothing is left running.
func (s *Supervisor) startSession(ctx context.Context, settings Settings) (*Session, error) {
	if err := s.clearBufferDir(settings.BufferDir); err != nil {
		return nil, fmt.Errorf("failed to clear buffer directory %s: %w", settings.BufferDir, err)
	}
	if err := os.MkdirAll(settings.BufferDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory %s: %w", settings.BufferDir, err)
	}

	inputs := acquireAudio(ctx, s.logger, s.acquirer, settings.Microphone, settings.SystemAudio)

	caps := s.probeEncoders(ctx, settings.FFmpegPath, settings.EncoderPreference)
	s.logger.Info("Selected video encoder", "encoder", caps.Encoder.String(), "hardware", caps.Encoder.Hardware())

	videoArgs := ffmpeg.BuildVideoArgs(settings.Video, caps.Encoder, settings.output(segments.TrackVideo))

	var audioArgs []string
	if len(inputs) > 0 {
		var err error
		audioArgs, err = ffmpeg.BuildAudioArgs(inputs, settings.Mix, settings.output(segments.TrackAudio))
		if err != nil {
			s.logger.Warn("Failed to build audio command, capturing video only", "error", err)
			audioArgs = nil
			inputs = nil
		}
	} else {
		s.logger.Warn("No audio source available, capturing video only")
	}

	launcher, err := s.newLauncher()
	if err != nil {
		return nil, fmt.Errorf("failed to create process group: %w", err)
	}

	sess := &Session{
		BufferDir:    settings.BufferDir,
		Capabilities: caps,
		AudioInputs:  inputs,
		launcher:     launcher,
	}

	videoMonitor := ffmpeg.NewProgressMonitor(s.logger, string(segments.TrackVideo), settings.ProgressInterval)
	sess.VideoStart = s.now()
	sess.Video, err = launcher.Start(process.Spec{
		Name:     string(segments.TrackVideo),
		Path:     settings.FFmpegPath,
		Args:     videoArgs,
		OnOutput: func(stream, line string) { videoMonitor.HandleLine(line) },
	})
	if err != nil {
		launcher.Close()
		return nil, NewSpawnError(segments.TrackVideo, err)
	}
	sess.monitors = append(sess.monitors, videoMonitor)
	s.logger.Info("Video encoder started", "pid", sess.Video.PID())

	sess.AudioStart = sess.VideoStart
	if audioArgs != nil {
		audioMonitor := ffmpeg.NewProgressMonitor(s.logger, string(segments.TrackAudio), settings.ProgressInterval)
		sess.AudioStart = s.now()
		sess.Audio, err = launcher.Start(process.Spec{
			Name:     string(segments.TrackAudio),
			Path:     settings.FFmpegPath,
			Args:     audioArgs,
			OnOutput: func(stream, line string) { audioMonitor.HandleLine(line) },
		})
		if err != nil {
			sess.Video.Kill()
			launcher.Close()
			return nil, NewSpawnError(segments.TrackAudio, err)
		}
		sess.monitors = append(sess.monitors, audioMonitor)
		s.logger.Info("Audio encoder started", "pid", sess.Audio.PID(), "sources", len(inputs))
	}

	md := segments.SessionMetadata{
		VideoStartTime: sess.VideoStart.UnixMilli(),
		AudioStartTime: sess.AudioStart.UnixMilli(),
	}
	if err := segments.WriteMetadata(settings.BufferDir, md); err != nil {
		for _, p := range sess.processes() {
			p.Kill()
		}
		launcher.Close()
		return nil, err
	}

	return sess, nil
}

// clearBufferDir removes the previous session's files. Replay working directories
// may still be in use by a running stitch and are only removed once abandoned.
func (s *Supervisor) clearBufferDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := s.now()
	for _, entry := range entries {
		if entry.IsDir() && segments.IsStitchDirName(entry.Name()) {
			info, err := entry.Info()
			if err == nil && now.Sub(info.ModTime()) < abandonedStitchAge {
				s.logger.Debug("Keeping active replay directory", "dir", entry.Name())
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// stopSession asks both encoders to quit at the same time, waits for them up to
// the grace period and then kills whatever is left.
func (s *Supervisor) stopSession(sess *Session, grace time.Duration) {
	procs := sess.processes()

	for _, p := range procs {
		go func(p Process) {
			if err := p.Quit(); err != nil {
				s.logger.Debug("Failed to send quit", "process", p.Name(), "error", err)
			}
		}(p)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var wg sync.WaitGroup
	allDone := make(chan struct{})
	for _, p := range procs {
		wg.Add(1)
		go func(p Process) {
			defer wg.Done()
			<-p.Done()
		}(p)
	}
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		s.logger.Debug("Encoders exited gracefully")
	case <-timer.C:
		s.logger.Warn("Encoders did not exit within grace period, forcing termination", "grace", grace)
	}

	for _, p := range procs {
		if err := p.Kill(); err != nil {
			s.logger.Error("Failed to kill encoder", "process", p.Name(), "pid", p.PID(), "error", err)
		}
	}

	if err := sess.launcher.Close(); err != nil {
		s.logger.Warn("Failed to close process group", "error", err)
	}
}
