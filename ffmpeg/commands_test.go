package ffmpeg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yeti47/replaybuffer/segments"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestParseEncoderList(t *testing.T) {
	output := ` V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)`

	got := ParseEncoderList(output)
	want := []VideoEncoder{EncoderNVENC, EncoderVAAPI, EncoderX264}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSelectEncoder(t *testing.T) {
	tests := []struct {
		name       string
		available  []VideoEncoder
		preference string
		want       VideoEncoder
	}{
		{"auto picks highest priority", []VideoEncoder{EncoderQSV, EncoderAMF, EncoderX264}, "auto", EncoderAMF},
		{"explicit available preference", []VideoEncoder{EncoderNVENC, EncoderX264}, "x264", EncoderX264},
		{"unavailable preference falls back", []VideoEncoder{EncoderQSV, EncoderX264}, "nvenc", EncoderQSV},
		{"software only", []VideoEncoder{EncoderX264}, "", EncoderX264},
		{"nothing reported", nil, "auto", EncoderX264},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectEncoder(tt.available, tt.preference); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEncoderCodecs(t *testing.T) {
	if EncoderNVENC.Codec() != "h264_nvenc" || EncoderX264.Codec() != "libx264" {
		t.Error("Unexpected codec names")
	}
	if EncoderX264.Hardware() || !EncoderQSV.Hardware() {
		t.Error("Unexpected hardware classification")
	}
	if enc, ok := ParseEncoder("H264_AMF"); !ok || enc != EncoderAMF {
		t.Errorf("Expected amf, got %s (%v)", enc, ok)
	}
}

func TestBuildVideoArgs(t *testing.T) {
	out := SegmentOutput{Dir: "/buf", Track: segments.TrackVideo, SegmentTime: 2 * time.Second, Extension: "mkv"}
	v := VideoSettings{InputFormat: "x11grab", InputSource: ":0.0", Framerate: 60, Bitrate: "15M", Resolution: "1280x720"}

	args := BuildVideoArgs(v, EncoderX264, out)

	checks := map[string]string{
		"-i":                ":0.0",
		"-c:v":              "libx264",
		"-g":                "120",
		"-preset":           "ultrafast",
		"-tune":             "zerolatency",
		"-vf":               "scale=1280:720",
		"-segment_time":     "2",
		"-strftime":         "1",
		"-segment_list":     filepath.Join("/buf", "video_list.m3u8"),
		"-force_key_frames": "expr:gte(t,n_forced*2)",
		"-reset_timestamps": "1",
	}
	for flag, want := range checks {
		if got, ok := argValue(args, flag); !ok || got != want {
			t.Errorf("%s: expected %q, got %q", flag, want, got)
		}
	}
	if !hasArg(args, "-an") {
		t.Error("Video process must not encode audio")
	}
	// keyframe and segment cut expressions assume timestamps rebased to zero
	if hasArg(args, "-copyts") {
		t.Error("Video process must not keep source timestamps")
	}
	if last := args[len(args)-1]; last != filepath.Join("/buf", "video_%Y%m%d%H%M%S.mkv") {
		t.Errorf("Unexpected output pattern %s", last)
	}
}

func TestBuildVideoArgs_HardwareRateControl(t *testing.T) {
	out := SegmentOutput{Dir: "/buf", Track: segments.TrackVideo, SegmentTime: 2 * time.Second}
	v := VideoSettings{InputFormat: "gdigrab", InputSource: "desktop", Framerate: 30, Bitrate: "8M", Preset: "ultrafast"}

	nvenc := BuildVideoArgs(v, EncoderNVENC, out)
	if got, _ := argValue(nvenc, "-maxrate"); got != "12M" {
		t.Errorf("Expected maxrate 12M, got %s", got)
	}
	if got, _ := argValue(nvenc, "-bufsize"); got != "16M" {
		t.Errorf("Expected bufsize 16M, got %s", got)
	}
	if got, _ := argValue(nvenc, "-preset"); got != "p1" {
		t.Errorf("Software preset must not leak into nvenc, got %s", got)
	}

	vaapi := BuildVideoArgs(v, EncoderVAAPI, out)
	if got, _ := argValue(vaapi, "-vaapi_device"); got != "/dev/dri/renderD128" {
		t.Errorf("Expected default vaapi device, got %s", got)
	}
	if got, _ := argValue(vaapi, "-vf"); got != "format=nv12,hwupload" {
		t.Errorf("Expected hwupload filter, got %s", got)
	}
}

func TestScaleBitrate(t *testing.T) {
	tests := []struct {
		in       string
		num, den int
		want     string
	}{
		{"15M", 3, 2, "22.5M"},
		{"800k", 2, 1, "1600k"},
		{"6000000", 1, 2, "3000000"},
		{"fast", 2, 1, "fast"},
		{"", 2, 1, ""},
	}
	for _, tt := range tests {
		if got := scaleBitrate(tt.in, tt.num, tt.den); got != tt.want {
			t.Errorf("scaleBitrate(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestMixFilterGraph(t *testing.T) {
	mix := AudioMix{SampleRate: 48000, Channels: 2}

	two := MixFilterGraph(2, mix)
	want := "[0:a]aresample=48000:ochl=stereo,aresample=async=10000:first_pts=0[a1];" +
		"[1:a]aresample=48000:ochl=stereo,aresample=async=10000:first_pts=0[a2];" +
		"[a1][a2]amix=inputs=2:duration=first:dropout_transition=0[mixed];" +
		"[mixed]asetpts=PTS-STARTPTS[aout]"
	if two != want {
		t.Errorf("Unexpected two-input graph:\n%s\nwant:\n%s", two, want)
	}

	one := MixFilterGraph(1, AudioMix{SampleRate: 44100, Channels: 1})
	if one != "[0:a]aresample=44100:ochl=mono,aresample=async=10000:first_pts=0,asetpts=PTS-STARTPTS[aout]" {
		t.Errorf("Unexpected single-input graph: %s", one)
	}
}

func TestBuildAudioArgs(t *testing.T) {
	out := SegmentOutput{Dir: "/buf", Track: segments.TrackAudio, SegmentTime: 2 * time.Second}
	mix := AudioMix{SampleRate: 48000, Channels: 2}

	if _, err := BuildAudioArgs(nil, mix, out); err == nil {
		t.Error("Expected error without inputs")
	}

	inputs := []AudioInput{
		{Label: "microphone", Kind: InputPipe, Name: "/tmp/mic.pipe", SampleRate: 44100, Channels: 1},
		{Label: "system", Kind: InputDevice, Name: "default.monitor", Format: "pulse"},
	}
	args, err := BuildAudioArgs(inputs, mix, out)
	if err != nil {
		t.Fatalf("BuildAudioArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-f f32le -ar 44100 -ac 1 -thread_queue_size 4096 -i /tmp/mic.pipe",
		"-f pulse -thread_queue_size 4096 -i default.monitor",
		"-map [aout]",
		"-c:a pcm_s16le",
		"-vn",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected %q in %s", want, joined)
		}
	}
	if graph, _ := argValue(args, "-filter_complex"); !strings.Contains(graph, "amix=inputs=2") {
		t.Errorf("Expected mixed graph, got %s", graph)
	}
	if last := args[len(args)-1]; last != filepath.Join("/buf", "audio_%Y%m%d%H%M%S.mkv") {
		t.Errorf("Unexpected output pattern %s", last)
	}
}

func TestMuxArgs(t *testing.T) {
	mix := AudioMix{SampleRate: 48000, Channels: 2, DeliveryCodec: "aac", DeliveryBitrate: "192k"}

	withAudio := MuxArgs(MuxSpec{
		VideoPath: "v.mkv", VideoTrim: 1500 * time.Millisecond,
		AudioPath: "a.mkv", AudioTrim: 250 * time.Millisecond,
		Duration: 60 * time.Second, Mix: mix, OutPath: "out.mp4",
	})
	joined := strings.Join(withAudio, " ")
	for _, want := range []string{
		"-ss 1.500 -i v.mkv -ss 0.250 -i a.mkv",
		"-map 0:v:0 -map 1:a:0 -c:v copy -c:a aac -b:a 192k -ac 2 -ar 48000",
		"-t 60.000 -movflags +faststart out.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected %q in %s", want, joined)
		}
	}

	videoOnly := MuxArgs(MuxSpec{VideoPath: "v.mkv", VideoTrim: -time.Second, Duration: 30 * time.Second, Mix: mix, OutPath: "out.mp4"})
	joined = strings.Join(videoOnly, " ")
	if strings.Contains(joined, "-c:a") || strings.Contains(joined, "1:a") {
		t.Errorf("Video-only mux must not map audio: %s", joined)
	}
	if !strings.Contains(joined, "-ss 0.000 -i v.mkv") {
		t.Errorf("Negative trim must clamp to zero: %s", joined)
	}
}

func TestWriteConcatList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := WriteConcatList(path, []string{"/buf/video_1.mkv", "/buf/it's.mkv"}); err != nil {
		t.Fatalf("WriteConcatList failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "file '/buf/video_1.mkv'\nfile '/buf/it'\\''s.mkv'\n"
	if string(data) != want {
		t.Errorf("Expected %q, got %q", want, data)
	}

	args := ConcatArgs(path, "out.mkv")
	if got, _ := argValue(args, "-safe"); got != "0" {
		t.Errorf("Expected -safe 0, got %s", got)
	}
	if got, _ := argValue(args, "-c"); got != "copy" {
		t.Errorf("Expected stream copy, got %s", got)
	}
}
