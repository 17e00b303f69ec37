package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/clips"
	clocksync "github.com/yeti47/replaybuffer/clock-sync"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/segments"
)

const (
	DefaultFlushWait            = 500 * time.Millisecond
	DefaultAudioCatchUpAttempts = 5
	DefaultAudioCatchUpDelay    = time.Second
	DefaultAudioLagTolerance    = 500 * time.Millisecond
)

// Clock supplies the network clock offset
type Clock interface {
	Offset() int64
	Synced() bool
}

// Settings is read once per replay request
type Settings struct {
	ReplayDuration time.Duration
	OutputDir      string
	FlushWait      time.Duration
	Guard          segments.GuardOptions
	CopyAttempts   int
	CopyBackoff    time.Duration
	// AudioCatchUpAttempts bounds how often the audio track is re-stitched while it
	// lags the video track by more than AudioLagTolerance.
	AudioCatchUpAttempts int
	AudioCatchUpDelay    time.Duration
	AudioLagTolerance    time.Duration
	Mix                  ffmpeg.AudioMix
}

// Stitcher turns the buffered segments around a trigger into a replay clip.
// Requests are serialized.
type Stitcher struct {
	logger           logging.Logger
	settingsProvider config.SettingsProvider[Settings]
	store            *segments.Store
	clock            Clock
	runner           ffmpeg.Runner
	prober           ffmpeg.Prober
	catalog          clips.ReplayRepository
	notifier         Notifier
	now              func() time.Time

	mu sync.Mutex
}

// NewStitcher creates a new Stitcher. catalog may be nil.
func NewStitcher(
	logger logging.Logger,
	settingsProvider config.SettingsProvider[Settings],
	store *segments.Store,
	clock Clock,
	runner ffmpeg.Runner,
	prober ffmpeg.Prober,
	catalog clips.ReplayRepository,
) *Stitcher {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Stitcher{
		logger:           logger,
		settingsProvider: settingsProvider,
		store:            store,
		clock:            clock,
		runner:           runner,
		prober:           prober,
		catalog:          catalog,
		notifier:         nopNotifier{},
		now:              time.Now,
	}
}

// SetNotifier registers the receiver of saved replay notifications
func (s *Stitcher) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// stitchedTrack is one track concatenated in the stitch directory
type stitchedTrack struct {
	Path     string
	StartMs  int64
	Segments int
}

// SaveReplay saves the replay window ending at the trigger. A nil trigger means now
// on the corrected local clock; a supplied trigger is epoch ms in network time.
func (s *Stitcher) SaveReplay(ctx context.Context, triggerEpochMs *int64) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.settingsProvider.GetSettings()

	offset := s.clock.Offset()
	localNow := s.now()
	triggerMs := ResolveTrigger(triggerEpochMs, localNow.UnixMilli(), offset)
	triggerLocalMs := clocksync.ToLocal(triggerMs, offset)
	window := WindowFor(triggerLocalMs, settings.ReplayDuration)

	s.logger.Info("Saving replay", "trigger_ms", triggerMs, "offset_ms", offset, "window", window.String())

	if err := os.MkdirAll(settings.OutputDir, 0755); err != nil {
		return nil, config.NewConfigurationError("output_dir", fmt.Sprintf("cannot create %s: %v", settings.OutputDir, err))
	}

	// give the encoders a moment to flush the segment covering the trigger
	if settings.FlushWait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(settings.FlushWait):
		}
	}

	md, err := segments.ReadMetadata(s.store.Dir())
	if err != nil {
		return nil, fmt.Errorf("no capture session to save from: %w", err)
	}

	videoSegs, err := s.store.FindSegments(segments.TrackVideo, window)
	if err != nil {
		if latest, ok, _ := s.store.Latest(segments.TrackVideo); ok && segments.IsNoSegmentsError(err) {
			s.logger.Warn("Buffer does not reach the replay window", "latest_segment_ms", latest.StartMs, "window", window.String())
		}
		return nil, err
	}
	audioSegs := s.findAudio(window)

	s.waitForLast(ctx, videoSegs, settings.Guard)
	s.waitForLast(ctx, audioSegs, settings.Guard)

	id := uuid.NewString()
	stitchDir := filepath.Join(s.store.Dir(), segments.StitchDirName(localNow.UnixMilli(), id[:8]))
	if err := os.MkdirAll(stitchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stitch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stitchDir); err != nil {
			s.logger.Error("Failed to remove stitch directory", "dir", stitchDir, "error", err)
		}
	}()

	video, err := s.stitchTrack(ctx, settings, stitchDir, segments.TrackVideo, videoSegs, md.VideoStartTime)
	if err != nil {
		return nil, fmt.Errorf("failed to stitch video: %w", err)
	}

	var audio *stitchedTrack
	if len(audioSegs) > 0 {
		audio = s.stitchAudio(ctx, settings, stitchDir, window, video, audioSegs, md.AudioStartTime)
	}

	mux := ffmpeg.MuxSpec{
		VideoPath: video.Path,
		VideoTrim: TrimOffset(window.StartMs, video.StartMs),
		Duration:  settings.ReplayDuration,
		Mix:       settings.Mix,
		OutPath:   filepath.Join(stitchDir, "replay.mp4"),
	}
	if audio != nil {
		mux.AudioPath = audio.Path
		mux.AudioTrim = TrimOffset(window.StartMs, audio.StartMs)
		s.logger.Debug("Aligning tracks",
			"video_start_ms", video.StartMs, "audio_start_ms", audio.StartMs,
			"video_trim", mux.VideoTrim, "audio_trim", mux.AudioTrim, "session_skew_ms", md.AudioSkewMs())
	} else {
		s.logger.Warn("Saving replay without audio")
	}

	if err := s.runner.Run(ctx, ffmpeg.MuxArgs(mux)); err != nil {
		return nil, fmt.Errorf("failed to mux replay: %w", err)
	}

	triggerLocal := time.UnixMilli(triggerLocalMs).In(s.store.Location())
	finalPath := uniqueOutputPath(settings.OutputDir, triggerLocal, id)
	if err := moveFile(ctx, mux.OutPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move replay to output directory: %w", err)
	}

	result := &Result{
		ID:            id,
		FilePath:      finalPath,
		DurationMs:    settings.ReplayDuration.Milliseconds(),
		FormatVersion: FormatVersion,
		HasAudio:      audio != nil,
		TriggerTimeMs: triggerMs,
	}

	if info, err := s.prober.Inspect(finalPath); err != nil {
		s.logger.Warn("Failed to probe replay duration, reporting requested duration", "path", finalPath, "error", err)
	} else if info.Duration > 0 {
		result.DurationMs = info.Duration.Milliseconds()
	}

	// the UTC start is only meaningful once the clock has been synchronized
	if s.clock.Synced() {
		clipStart := max(window.StartMs, video.StartMs)
		startUTC := clocksync.ToNetwork(clipStart, offset)
		result.StartTimeUTCMs = &startUTC
	}

	s.logger.Info("Replay saved", "path", finalPath, "duration_ms", result.DurationMs, "has_audio", result.HasAudio)

	s.record(ctx, result)
	s.notifier.ReplaySaved(result)
	return result, nil
}

// findAudio returns the audio segments of the window. Missing audio only degrades the clip.
func (s *Stitcher) findAudio(window segments.Window) []segments.Segment {
	audioSegs, err := s.store.FindSegments(segments.TrackAudio, window)
	if err != nil {
		if segments.IsNoSegmentsError(err) {
			s.logger.Warn("No audio segments in replay window", "window", window.String(), "audio_live", s.store.TrackLive(segments.TrackAudio))
		} else {
			s.logger.Warn("Failed to list audio segments", "error", err)
		}
		return nil
	}
	return audioSegs
}

func (s *Stitcher) waitForLast(ctx context.Context, segs []segments.Segment, opts segments.GuardOptions) {
	if len(segs) == 0 {
		return
	}
	last := segs[len(segs)-1]
	complete, err := s.store.WaitForCompletion(ctx, last, opts)
	if err != nil {
		s.logger.Warn("Completion check aborted", "segment", filepath.Base(last.Path), "error", err)
		return
	}
	if !complete {
		s.logger.Warn("Segment still being written, using it anyway", "segment", filepath.Base(last.Path))
	}
}

// stitchTrack copies the segments into the stitch directory, concatenates them and
// determines the real start time of the result.
func (s *Stitcher) stitchTrack(ctx context.Context, settings Settings, stitchDir string, track segments.Track, segs []segments.Segment, sessionStartMs int64) (*stitchedTrack, error) {
	copies := make([]string, 0, len(segs))
	for _, seg := range segs {
		dst := filepath.Join(stitchDir, filepath.Base(seg.Path))
		if err := segments.CopyWithRetry(ctx, seg.Path, dst, settings.CopyAttempts, settings.CopyBackoff); err != nil {
			return nil, err
		}
		copies = append(copies, dst)
	}

	listPath := filepath.Join(stitchDir, string(track)+"_concat.txt")
	if err := ffmpeg.WriteConcatList(listPath, copies); err != nil {
		return nil, err
	}

	outPath := filepath.Join(stitchDir, string(track)+"_concat.mkv")
	if err := s.runner.Run(ctx, ffmpeg.ConcatArgs(listPath, outPath)); err != nil {
		return nil, err
	}

	// a segment cannot start before its encoder was spawned
	fallback := max(segs[0].StartMs, sessionStartMs)
	seconds, ok, err := s.prober.StartTime(ctx, copies[0])
	if err != nil {
		s.logger.Warn("Failed to probe segment start time, using filename", "segment", filepath.Base(copies[0]), "error", err)
	}
	startMs := EmbeddedStartMs(seconds, ok && err == nil, fallback)

	s.logger.Debug("Stitched track", "track", track, "segments", len(segs), "start_ms", startMs, "probed", startMs != fallback)
	return &stitchedTrack{Path: outPath, StartMs: startMs, Segments: len(segs)}, nil
}

// stitchAudio stitches the audio track and re-stitches it while it lags behind the
// video track. Failures leave the clip without audio.
func (s *Stitcher) stitchAudio(ctx context.Context, settings Settings, stitchDir string, window segments.Window, video *stitchedTrack, audioSegs []segments.Segment, sessionStartMs int64) *stitchedTrack {
	attempts := settings.AudioCatchUpAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var videoDuration time.Duration
	if info, err := s.prober.Inspect(video.Path); err == nil {
		videoDuration = info.Duration
	}

	var audio *stitchedTrack
	for attempt := 1; attempt <= attempts; attempt++ {
		stitched, err := s.stitchTrack(ctx, settings, stitchDir, segments.TrackAudio, audioSegs, sessionStartMs)
		if err != nil {
			s.logger.Warn("Failed to stitch audio", "attempt", attempt, "error", err)
		} else {
			audio = stitched
			if videoDuration == 0 || attempt == attempts {
				break
			}
			info, err := s.prober.Inspect(stitched.Path)
			if err != nil || info.Duration >= videoDuration-settings.AudioLagTolerance {
				break
			}
			s.logger.Warn("Audio lagging behind video, waiting", "attempt", attempt, "video", videoDuration, "audio", info.Duration)
		}

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return audio
		case <-time.After(settings.AudioCatchUpDelay):
		}
		if segs := s.findAudio(window); len(segs) > 0 {
			audioSegs = segs
		}
	}

	return audio
}

func (s *Stitcher) record(ctx context.Context, result *Result) {
	if s.catalog == nil {
		return
	}

	replay := &clips.Replay{
		ID:            result.ID,
		FilePath:      result.FilePath,
		TriggerTime:   time.UnixMilli(result.TriggerTimeMs).UTC(),
		StartTimeUTC:  result.StartTimeUTCMs,
		Duration:      time.Duration(result.DurationMs) * time.Millisecond,
		HasAudio:      result.HasAudio,
		FormatVersion: result.FormatVersion,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.catalog.Add(ctx, replay); err != nil {
		s.logger.Error("Failed to record replay in catalog", "id", result.ID, "error", err)
	}
}

// moveFile renames src to dst, copying when they are on different volumes
func moveFile(ctx context.Context, src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := segments.CopyWithRetry(ctx, src, dst, 1, 0); err != nil {
		return err
	}
	return os.Remove(src)
}
