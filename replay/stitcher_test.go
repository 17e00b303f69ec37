package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yeti47/replaybuffer/ccc/db"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/clips"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/ffmpeg"
	"github.com/yeti47/replaybuffer/segments"
)

type fakeClock struct {
	offset int64
	synced bool
}

func (c fakeClock) Offset() int64 { return c.offset }
func (c fakeClock) Synced() bool  { return c.synced }

// fakeRunner records invocations and creates the output file (the last argument)
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(args []string) error
}

func (r *fakeRunner) Run(ctx context.Context, args []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(args); err != nil {
			return err
		}
	}
	return os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func (r *fakeRunner) muxCall() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		if strings.HasSuffix(call[len(call)-1], "replay.mp4") {
			return call
		}
	}
	return nil
}

func (r *fakeRunner) concatCalls(track segments.Track) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if strings.HasSuffix(call[len(call)-1], string(track)+"_concat.mkv") {
			n++
		}
	}
	return n
}

type fakeProber struct {
	mu         sync.Mutex
	startTimes map[segments.Track]float64
	durations  map[string][]time.Duration // by file base name, consumed in order
}

func (p *fakeProber) StartTime(ctx context.Context, path string) (float64, bool, error) {
	base := filepath.Base(path)
	for track, seconds := range p.startTimes {
		if strings.HasPrefix(base, string(track)+"_") {
			return seconds, true, nil
		}
	}
	return 0, false, nil
}

func (p *fakeProber) Inspect(path string) (*ffmpeg.MediaInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := filepath.Base(path)
	if strings.HasPrefix(base, "Replay_") {
		base = "Replay"
	}
	queue := p.durations[base]
	if len(queue) == 0 {
		return nil, errors.New("no media info")
	}
	d := queue[0]
	if len(queue) > 1 {
		p.durations[base] = queue[1:]
	}
	return &ffmpeg.MediaInfo{Duration: d, HasVideo: true}, nil
}

type recordingNotifier struct {
	results []*Result
}

func (n *recordingNotifier) ReplaySaved(result *Result) {
	n.results = append(n.results, result)
}

var testNow = time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)

type testEnv struct {
	bufferDir string
	outputDir string
	store     *segments.Store
	runner    *fakeRunner
	prober    *fakeProber
	settings  Settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		bufferDir: filepath.Join(root, "buffer"),
		outputDir: filepath.Join(root, "out"),
		runner:    &fakeRunner{},
		prober: &fakeProber{
			startTimes: map[segments.Track]float64{},
			durations:  map[string][]time.Duration{},
		},
	}
	if err := os.MkdirAll(env.bufferDir, 0755); err != nil {
		t.Fatal(err)
	}
	env.store = segments.NewStore(logging.NopLogger, env.bufferDir, 2*time.Second, time.UTC)
	env.settings = Settings{
		ReplayDuration: 10 * time.Second,
		OutputDir:      env.outputDir,
		Guard:          segments.GuardOptions{PollInterval: time.Millisecond, MaxRetries: 1, StableFor: time.Second},
		CopyAttempts:   2,
		CopyBackoff:    time.Millisecond,
		Mix:            ffmpeg.AudioMix{SampleRate: 48000, Channels: 2, DeliveryCodec: "aac", DeliveryBitrate: "192k"},
	}
	return env
}

// writeSegments creates count segments of the track every two seconds from first
func (e *testEnv) writeSegments(t *testing.T, track segments.Track, first time.Time, count int) {
	t.Helper()
	old := time.Now().Add(-time.Minute)
	for i := 0; i < count; i++ {
		name := segments.FormatSegmentName(track, first.Add(time.Duration(i)*2*time.Second), "mkv")
		path := filepath.Join(e.bufferDir, name)
		if err := os.WriteFile(path, []byte("segment"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *testEnv) writeMetadata(t *testing.T, videoStart, audioStart time.Time) {
	t.Helper()
	md := segments.SessionMetadata{VideoStartTime: videoStart.UnixMilli(), AudioStartTime: audioStart.UnixMilli()}
	if err := segments.WriteMetadata(e.bufferDir, md); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) stitcher(clock Clock, catalog clips.ReplayRepository) *Stitcher {
	s := NewStitcher(logging.NopLogger, config.StaticSettingsProvider[Settings]{Settings: e.settings}, e.store, clock, e.runner, e.prober, catalog)
	s.now = func() time.Time { return testNow }
	return s
}

func argAfter(args []string, flag string, occurrence int) string {
	seen := 0
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			if seen == occurrence {
				return args[i+1]
			}
			seen++
		}
	}
	return ""
}

func TestSaveReplay_VideoAndAudio(t *testing.T) {
	env := newTestEnv(t)
	sessionStart := testNow.Add(-time.Minute)
	env.writeMetadata(t, sessionStart, sessionStart.Add(40*time.Millisecond))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-14*time.Second), 7)
	env.writeSegments(t, segments.TrackAudio, testNow.Add(-14*time.Second), 7)

	// video carries absolute timestamps half a second before the window start,
	// audio only stream-relative ones
	windowStart := testNow.Add(-10 * time.Second)
	env.prober.startTimes[segments.TrackVideo] = float64(windowStart.Add(-500*time.Millisecond).UnixMilli()) / 1000
	env.prober.startTimes[segments.TrackAudio] = 1.4
	env.prober.durations["Replay"] = []time.Duration{9800 * time.Millisecond}

	testDB, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer testDB.Close()
	catalog, err := clips.NewSQLiteReplayRepository(testDB)
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	s := env.stitcher(fakeClock{offset: 0, synced: true}, catalog)
	s.SetNotifier(notifier)

	result, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}

	if !result.HasAudio {
		t.Error("Expected clip with audio")
	}
	if result.DurationMs != 9800 {
		t.Errorf("Expected probed duration 9800, got %d", result.DurationMs)
	}
	if result.FormatVersion != FormatVersion {
		t.Errorf("Expected format version %d, got %d", FormatVersion, result.FormatVersion)
	}
	if result.TriggerTimeMs != testNow.UnixMilli() {
		t.Errorf("Expected trigger %d, got %d", testNow.UnixMilli(), result.TriggerTimeMs)
	}
	if result.StartTimeUTCMs == nil || *result.StartTimeUTCMs != windowStart.UnixMilli() {
		t.Errorf("Expected UTC start %d, got %v", windowStart.UnixMilli(), result.StartTimeUTCMs)
	}

	wantPath := filepath.Join(env.outputDir, "Replay_2024-01-01_10-01-00.mp4")
	if result.FilePath != wantPath {
		t.Errorf("Expected %s, got %s", wantPath, result.FilePath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("Expected replay file: %v", err)
	}

	mux := env.runner.muxCall()
	if mux == nil {
		t.Fatal("Expected a mux invocation")
	}
	if got := argAfter(mux, "-ss", 0); got != "0.500" {
		t.Errorf("Expected video trim 0.500, got %s", got)
	}
	if got := argAfter(mux, "-ss", 1); got != "0.000" {
		t.Errorf("Expected audio trim 0.000, got %s", got)
	}
	if got := argAfter(mux, "-t", 0); got != "10.000" {
		t.Errorf("Expected duration 10.000, got %s", got)
	}

	entries, _ := os.ReadDir(env.bufferDir)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "stitch_") {
			t.Errorf("Stitch directory %s was not removed", entry.Name())
		}
	}

	stored, err := catalog.GetByID(context.Background(), result.ID)
	if err != nil || stored == nil {
		t.Fatalf("Expected replay in catalog: %v", err)
	}
	if stored.FilePath != result.FilePath {
		t.Errorf("Expected catalog path %s, got %s", result.FilePath, stored.FilePath)
	}

	if len(notifier.results) != 1 || notifier.results[0].ID != result.ID {
		t.Errorf("Expected one notification for %s", result.ID)
	}
}

func TestSaveReplay_ConcatListContents(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-20*time.Second), 10)

	var lists []string
	env.runner.fail = func(args []string) error {
		if strings.HasSuffix(args[len(args)-1], "_concat.mkv") {
			data, err := os.ReadFile(argAfter(args, "-i", 0))
			if err != nil {
				return err
			}
			lists = append(lists, string(data))
		}
		return nil
	}

	s := env.stitcher(fakeClock{}, nil)
	if _, err := s.SaveReplay(context.Background(), nil); err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}

	if len(lists) != 1 {
		t.Fatalf("Expected one concat list, got %d", len(lists))
	}
	lines := strings.Split(strings.TrimSpace(lists[0]), "\n")
	want := []string{"video_20240101100050.mkv", "video_20240101100052.mkv", "video_20240101100054.mkv", "video_20240101100056.mkv", "video_20240101100058.mkv"}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %v", len(want), len(lines), lines)
	}
	for i, name := range want {
		if !strings.Contains(lines[i], name) {
			t.Errorf("Entry %d: expected %s, got %s", i, name, lines[i])
		}
	}
}

func TestSaveReplay_VideoOnly(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)

	s := env.stitcher(fakeClock{synced: false}, nil)
	result, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}

	if result.HasAudio {
		t.Error("Expected clip without audio")
	}
	if result.StartTimeUTCMs != nil {
		t.Error("Expected no UTC start time without clock sync")
	}
	if result.DurationMs != 10000 {
		t.Errorf("Expected requested duration when probing fails, got %d", result.DurationMs)
	}

	mux := env.runner.muxCall()
	for _, arg := range mux {
		if arg == "1:a:0" {
			t.Error("Video-only mux must not map audio")
		}
	}
}

func TestSaveReplay_AudioStitchFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)
	env.writeSegments(t, segments.TrackAudio, testNow.Add(-12*time.Second), 6)

	env.runner.fail = func(args []string) error {
		if strings.HasSuffix(args[len(args)-1], "audio_concat.mkv") {
			return ffmpeg.NewEngineError("ffmpeg", 1, "Invalid data found", errors.New("exit status 1"))
		}
		return nil
	}

	s := env.stitcher(fakeClock{}, nil)
	result, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}
	if result.HasAudio {
		t.Error("Expected video-only clip after audio failure")
	}
}

func TestSaveReplay_AudioCatchUp(t *testing.T) {
	env := newTestEnv(t)
	env.settings.AudioCatchUpAttempts = 3
	env.settings.AudioCatchUpDelay = time.Millisecond
	env.settings.AudioLagTolerance = 500 * time.Millisecond
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)
	env.writeSegments(t, segments.TrackAudio, testNow.Add(-12*time.Second), 6)

	env.prober.durations["video_concat.mkv"] = []time.Duration{12 * time.Second}
	env.prober.durations["audio_concat.mkv"] = []time.Duration{9 * time.Second, 11700 * time.Millisecond}

	s := env.stitcher(fakeClock{}, nil)
	result, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}
	if !result.HasAudio {
		t.Error("Expected clip with audio")
	}
	if got := env.runner.concatCalls(segments.TrackAudio); got != 2 {
		t.Errorf("Expected audio to be stitched twice, got %d", got)
	}
}

func TestSaveReplay_NoVideoSegments(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-5*time.Minute), 3)

	s := env.stitcher(fakeClock{}, nil)
	_, err := s.SaveReplay(context.Background(), nil)
	if !segments.IsNoSegmentsError(err) {
		t.Fatalf("Expected NoSegmentsError, got %v", err)
	}
	if entries, _ := os.ReadDir(env.outputDir); len(entries) != 0 {
		t.Error("Expected no output file")
	}
}

func TestSaveReplay_MissingMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)

	s := env.stitcher(fakeClock{}, nil)
	_, err := s.SaveReplay(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error without session metadata")
	}
	if !segments.IsMetadataNotFoundError(err) {
		t.Errorf("Expected MetadataNotFoundError, got %v", err)
	}
}

func TestSaveReplay_MuxFailureLeavesNoOutput(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)

	env.runner.fail = func(args []string) error {
		if strings.HasSuffix(args[len(args)-1], "replay.mp4") {
			return ffmpeg.NewEngineError("ffmpeg", 1, "muxer failed", errors.New("exit status 1"))
		}
		return nil
	}

	s := env.stitcher(fakeClock{}, nil)
	_, err := s.SaveReplay(context.Background(), nil)
	if !ffmpeg.IsEngineError(err) {
		t.Fatalf("Expected EngineError, got %v", err)
	}

	if entries, _ := os.ReadDir(env.outputDir); len(entries) != 0 {
		t.Errorf("Expected empty output directory, got %d entries", len(entries))
	}
	entries, _ := os.ReadDir(env.bufferDir)
	for _, entry := range entries {
		if entry.IsDir() {
			t.Errorf("Expected stitch directory to be removed, found %s", entry.Name())
		}
	}
}

func TestSaveReplay_RemoteTrigger(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-2*time.Minute), testNow.Add(-2*time.Minute))
	// local clock runs 3s behind the network
	offset := int64(3000)
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-40*time.Second), 10)

	// remote trigger 30s ago in network time maps to local 10:00:27
	trigger := testNow.Add(-30*time.Second).UnixMilli() + offset

	s := env.stitcher(fakeClock{offset: offset, synced: true}, nil)
	result, err := s.SaveReplay(context.Background(), &trigger)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}
	if result.TriggerTimeMs != trigger {
		t.Errorf("Expected trigger %d, got %d", trigger, result.TriggerTimeMs)
	}
	if filepath.Base(result.FilePath) != "Replay_2024-01-01_10-00-30.mp4" {
		t.Errorf("Unexpected file name %s", filepath.Base(result.FilePath))
	}
	// window starts at local 10:00:20, the first segment at 10:00:20
	wantStart := testNow.Add(-40*time.Second).UnixMilli() + offset
	if result.StartTimeUTCMs == nil || *result.StartTimeUTCMs != wantStart {
		t.Errorf("Expected UTC start %d, got %v", wantStart, result.StartTimeUTCMs)
	}
}

func TestSaveReplay_UniqueNamesWithinSameSecond(t *testing.T) {
	env := newTestEnv(t)
	env.writeMetadata(t, testNow.Add(-time.Minute), testNow.Add(-time.Minute))
	env.writeSegments(t, segments.TrackVideo, testNow.Add(-12*time.Second), 6)

	s := env.stitcher(fakeClock{}, nil)
	first, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}
	second, err := s.SaveReplay(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}
	if first.FilePath == second.FilePath {
		t.Errorf("Expected distinct output paths, both were %s", first.FilePath)
	}
}
