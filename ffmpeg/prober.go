package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/replaybuffer/ccc/logging"
)

// MediaInfo summarizes a media file
type MediaInfo struct {
	Duration   time.Duration
	FormatName string
	HasVideo   bool
	HasAudio   bool
}

// Prober inspects media files
type Prober interface {
	// StartTime returns the container start time in seconds; ok is false when the
	// file carries none.
	StartTime(ctx context.Context, path string) (seconds float64, ok bool, err error)
	// Inspect returns duration and stream kinds of the file
	Inspect(path string) (*MediaInfo, error)
}

// FFProbe implements Prober with ffprobe and goffmpeg
type FFProbe struct {
	logger logging.Logger
	path   string
	// useTranscoder is false when goffmpeg would resolve other binaries than path
	useTranscoder bool
}

// NewFFProbe creates a prober using the ffprobe binary at path
func NewFFProbe(logger logging.Logger, path string) *FFProbe {
	if logger == nil {
		logger = logging.NopLogger
	}
	if path == "" {
		path = "ffprobe"
	}

	p := &FFProbe{logger: logger, path: path, useTranscoder: goffmpegResolves(path)}
	if !p.useTranscoder {
		logger.Info("ffprobe is not the one on PATH, running it directly", "ffprobe", path)
	}
	return p
}

// goffmpegResolves reports whether goffmpeg, which always looks up ffmpeg and
// ffprobe on PATH, would use the configured binary
func goffmpegResolves(path string) bool {
	if path != "ffprobe" {
		return false
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return false
	}
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// StartTime reads format=start_time, which the goffmpeg metadata model does not expose
func (p *FFProbe) StartTime(ctx context.Context, path string) (float64, bool, error) {
	cmd := exec.CommandContext(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=start_time",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, false, NewEngineError(filepath.Base(p.path), exitErr.ExitCode(), stderr.String(), err)
		}
		return 0, false, fmt.Errorf("failed to run %s: %w", p.path, err)
	}

	return ParseStartTime(string(out))
}

// ParseStartTime parses ffprobe's start_time output
func ParseStartTime(out string) (float64, bool, error) {
	value := strings.TrimSpace(out)
	if value == "" || value == "N/A" {
		return 0, false, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid start time %q: %w", value, err)
	}
	return seconds, true, nil
}

// Inspect returns duration and stream kinds, through goffmpeg when it can find the binaries
func (p *FFProbe) Inspect(path string) (*MediaInfo, error) {
	if !p.useTranscoder {
		return p.inspectDirect(path)
	}

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder for probing: %w", err)
	}

	metadata := trans.MediaFile().Metadata()
	info := &MediaInfo{FormatName: metadata.Format.FormatName}

	for _, stream := range metadata.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}

	if metadata.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(metadata.Format.Duration, 64)
		if err != nil {
			p.logger.Warn("Unparseable media duration", "path", path, "duration", metadata.Format.Duration)
		} else {
			info.Duration = time.Duration(seconds * float64(time.Second))
		}
	}

	return info, nil
}

func (p *FFProbe) inspectDirect(path string) (*MediaInfo, error) {
	cmd := exec.Command(p.path,
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=codec_type",
		"-of", "json",
		path,
	)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, NewEngineError(filepath.Base(p.path), exitErr.ExitCode(), stderr.String(), err)
		}
		return nil, fmt.Errorf("failed to run %s: %w", p.path, err)
	}

	return ParseMediaInfo(out)
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// ParseMediaInfo parses ffprobe's JSON output for format and stream entries
func ParseMediaInfo(out []byte) (*MediaInfo, error) {
	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}

	info := &MediaInfo{FormatName: probed.Format.FormatName}
	for _, stream := range probed.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}

	if probed.Format.Duration != "" && probed.Format.Duration != "N/A" {
		seconds, err := strconv.ParseFloat(probed.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", probed.Format.Duration, err)
		}
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}
