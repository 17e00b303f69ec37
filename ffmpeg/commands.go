package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yeti47/replaybuffer/segments"
)

const threadQueueSize = "4096"

// VideoSettings describes the screen capture input and target encoding
type VideoSettings struct {
	InputFormat string
	InputSource string
	Framerate   int
	Bitrate     string
	Preset      string // software encoder only
	Tune        string // software encoder only
	Profile     string
	Resolution  string // WIDTHxHEIGHT, empty keeps the source size
	VAAPIDevice string
}

// InputKind distinguishes named byte streams from capture devices
type InputKind int

const (
	InputPipe InputKind = iota
	InputDevice
)

// AudioInput is one audio source of the audio-only encoder
type AudioInput struct {
	Label      string
	Kind       InputKind
	Name       string // pipe path or device selector
	Format     string // raw sample format for pipes, demuxer for devices
	SampleRate int
	Channels   int
}

// AudioMix is shared by the capture and final mux commands
type AudioMix struct {
	SampleRate      int
	Channels        int
	SegmentCodec    string
	DeliveryCodec   string
	DeliveryBitrate string
}

// SegmentOutput describes where a track's segments are written
type SegmentOutput struct {
	Dir         string
	Track       segments.Track
	SegmentTime time.Duration
	Extension   string
}

func (o SegmentOutput) args() []string {
	ext := o.Extension
	if ext == "" {
		ext = "mkv"
	}
	seconds := strconv.FormatFloat(o.SegmentTime.Seconds(), 'f', -1, 64)

	return []string{
		"-f", "segment",
		"-segment_time", seconds,
		"-segment_format", "matroska",
		"-segment_list", filepath.Join(o.Dir, segments.PlaylistName(o.Track)),
		"-segment_list_type", "m3u8",
		// every segment starts at zero; its wall-clock start is the filename
		"-reset_timestamps", "1",
		"-strftime", "1",
		filepath.Join(o.Dir, segments.FilenamePattern(o.Track, ext)),
	}
}

// BuildVideoArgs builds the argument list of the video-only capture process
func BuildVideoArgs(v VideoSettings, encoder VideoEncoder, out SegmentOutput) []string {
	args := []string{"-hide_banner", "-y", "-stats"}

	if encoder == EncoderVAAPI {
		device := v.VAAPIDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		args = append(args, "-vaapi_device", device)
	}

	args = append(args,
		"-thread_queue_size", threadQueueSize,
		"-f", v.InputFormat,
		"-framerate", strconv.Itoa(v.Framerate),
		"-i", v.InputSource,
	)

	if filters := videoFilters(v, encoder); filters != "" {
		args = append(args, "-vf", filters)
	}

	args = append(args, "-map", "0:v", "-an", "-c:v", encoder.Codec())
	args = append(args, rateControlArgs(v, encoder)...)

	segmentSeconds := strconv.FormatFloat(out.SegmentTime.Seconds(), 'f', -1, 64)
	args = append(args,
		"-g", strconv.Itoa(v.Framerate*2),
		"-force_key_frames", "expr:gte(t,n_forced*"+segmentSeconds+")",
		"-fps_mode", "vfr",
		"-max_muxing_queue_size", "9999",
	)

	return append(args, out.args()...)
}

func videoFilters(v VideoSettings, encoder VideoEncoder) string {
	var filters []string
	if w, h, ok := parseResolution(v.Resolution); ok {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", w, h))
	}
	if encoder == EncoderVAAPI {
		filters = append(filters, "format=nv12", "hwupload")
	}
	return strings.Join(filters, ",")
}

func parseResolution(res string) (int, int, bool) {
	parts := strings.Split(strings.ToLower(res), "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func rateControlArgs(v VideoSettings, encoder VideoEncoder) []string {
	profile := v.Profile
	if profile == "" {
		profile = "high"
	}

	switch encoder {
	case EncoderNVENC:
		return []string{
			"-rc", "vbr",
			"-b:v", v.Bitrate,
			"-maxrate", scaleBitrate(v.Bitrate, 3, 2),
			"-bufsize", scaleBitrate(v.Bitrate, 2, 1),
			"-preset", "p1",
			"-profile:v", profile,
		}
	case EncoderAMF:
		return []string{
			"-rc", "cbr",
			"-b:v", v.Bitrate,
			"-usage", "transcoding",
			"-quality", "speed",
			"-profile:v", profile,
		}
	case EncoderQSV:
		return []string{
			"-b:v", v.Bitrate,
			"-preset", "veryfast",
			"-profile:v", profile,
		}
	case EncoderVAAPI:
		return []string{
			"-rc_mode", "VBR",
			"-b:v", v.Bitrate,
			"-maxrate", scaleBitrate(v.Bitrate, 3, 2),
		}
	default:
		preset := v.Preset
		if preset == "" {
			preset = "ultrafast"
		}
		tune := v.Tune
		if tune == "" {
			tune = "zerolatency"
		}
		return []string{
			"-b:v", v.Bitrate,
			"-preset", preset,
			"-tune", tune,
			"-pix_fmt", "yuv420p",
		}
	}
}

// scaleBitrate multiplies a bitrate like "15M" or "800k" by num/den.
// Unparseable values are returned unchanged.
func scaleBitrate(bitrate string, num, den int) string {
	b := strings.TrimSpace(bitrate)
	if b == "" {
		return b
	}

	suffix := ""
	if last := b[len(b)-1]; last == 'k' || last == 'K' || last == 'm' || last == 'M' {
		suffix = string(last)
		b = b[:len(b)-1]
	}

	value, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return bitrate
	}
	return strconv.FormatFloat(value*float64(num)/float64(den), 'f', -1, 64) + suffix
}

// BuildAudioArgs builds the argument list of the audio-only capture process
func BuildAudioArgs(inputs []AudioInput, mix AudioMix, out SegmentOutput) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no audio inputs")
	}

	args := []string{"-hide_banner", "-y", "-stats"}
	for _, in := range inputs {
		args = append(args, audioInputArgs(in)...)
	}

	codec := mix.SegmentCodec
	if codec == "" {
		codec = "pcm_s16le"
	}

	args = append(args,
		"-filter_complex", MixFilterGraph(len(inputs), mix),
		"-map", "[aout]",
		"-vn",
		"-c:a", codec,
		"-ar", strconv.Itoa(mix.SampleRate),
		"-ac", strconv.Itoa(mix.Channels),
		"-max_muxing_queue_size", "9999",
	)

	return append(args, out.args()...), nil
}

func audioInputArgs(in AudioInput) []string {
	var args []string
	switch in.Kind {
	case InputPipe:
		format := in.Format
		if format == "" {
			format = "f32le"
		}
		args = append(args, "-f", format)
		if in.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(in.SampleRate))
		}
		if in.Channels > 0 {
			args = append(args, "-ac", strconv.Itoa(in.Channels))
		}
	case InputDevice:
		if in.Format != "" {
			args = append(args, "-f", in.Format)
		}
	}
	return append(args, "-thread_queue_size", threadQueueSize, "-i", in.Name)
}

func channelLayout(channels int) string {
	if channels == 1 {
		return "mono"
	}
	return "stereo"
}

// MixFilterGraph returns the filter graph that resamples every audio input to the
// mix format and, with two or more inputs, mixes them with the first input as master.
func MixFilterGraph(inputCount int, mix AudioMix) string {
	resample := fmt.Sprintf("aresample=%d:ochl=%s,aresample=async=10000:first_pts=0", mix.SampleRate, channelLayout(mix.Channels))

	if inputCount <= 1 {
		return fmt.Sprintf("[0:a]%s,asetpts=PTS-STARTPTS[aout]", resample)
	}

	var chains []string
	var labels strings.Builder
	for i := 0; i < inputCount; i++ {
		chains = append(chains, fmt.Sprintf("[%d:a]%s[a%d]", i, resample, i+1))
		fmt.Fprintf(&labels, "[a%d]", i+1)
	}
	chains = append(chains,
		fmt.Sprintf("%samix=inputs=%d:duration=first:dropout_transition=0[mixed]", labels.String(), inputCount),
		"[mixed]asetpts=PTS-STARTPTS[aout]",
	)
	return strings.Join(chains, ";")
}

// ConcatArgs builds a stream-copy concatenation using the concat demuxer
func ConcatArgs(listPath, outPath string) []string {
	return []string{
		"-hide_banner", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

// WriteConcatList writes a concat demuxer list file for the given media files
func WriteConcatList(listPath string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		escaped := strings.ReplaceAll(filepath.ToSlash(f), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	return nil
}

// MuxSpec describes the final clip mux
type MuxSpec struct {
	VideoPath string
	VideoTrim time.Duration
	AudioPath string // empty for a video-only clip
	AudioTrim time.Duration
	Duration  time.Duration
	Mix       AudioMix
	OutPath   string
}

// MuxArgs builds the final mux: video stream-copied, audio transcoded to the delivery codec
func MuxArgs(spec MuxSpec) []string {
	args := []string{
		"-hide_banner", "-y",
		"-ss", formatSeconds(spec.VideoTrim),
		"-i", spec.VideoPath,
	}
	if spec.AudioPath != "" {
		args = append(args, "-ss", formatSeconds(spec.AudioTrim), "-i", spec.AudioPath)
	}

	args = append(args, "-map", "0:v:0")
	if spec.AudioPath != "" {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args, "-c:v", "copy")

	if spec.AudioPath != "" {
		codec := spec.Mix.DeliveryCodec
		if codec == "" {
			codec = "aac"
		}
		bitrate := spec.Mix.DeliveryBitrate
		if bitrate == "" {
			bitrate = "192k"
		}
		args = append(args,
			"-c:a", codec,
			"-b:a", bitrate,
			"-ac", strconv.Itoa(spec.Mix.Channels),
			"-ar", strconv.Itoa(spec.Mix.SampleRate),
		)
	}

	return append(args,
		"-t", formatSeconds(spec.Duration),
		"-movflags", "+faststart",
		spec.OutPath,
	)
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
