package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
)

// VideoEncoder is one of the H.264 encoders the capture pipeline knows how to drive
type VideoEncoder int

const (
	EncoderX264 VideoEncoder = iota
	EncoderNVENC
	EncoderAMF
	EncoderQSV
	EncoderVAAPI
)

// hardware encoders in order of preference
var encoderPriority = []VideoEncoder{EncoderNVENC, EncoderAMF, EncoderQSV, EncoderVAAPI}

// Codec returns the ffmpeg codec name
func (e VideoEncoder) Codec() string {
	switch e {
	case EncoderNVENC:
		return "h264_nvenc"
	case EncoderAMF:
		return "h264_amf"
	case EncoderQSV:
		return "h264_qsv"
	case EncoderVAAPI:
		return "h264_vaapi"
	default:
		return "libx264"
	}
}

func (e VideoEncoder) String() string {
	switch e {
	case EncoderNVENC:
		return "nvenc"
	case EncoderAMF:
		return "amf"
	case EncoderQSV:
		return "qsv"
	case EncoderVAAPI:
		return "vaapi"
	default:
		return "x264"
	}
}

// Hardware reports whether the encoder runs on a GPU
func (e VideoEncoder) Hardware() bool {
	return e != EncoderX264
}

// ParseEncoder maps a configuration name to an encoder
func ParseEncoder(name string) (VideoEncoder, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "x264", "libx264":
		return EncoderX264, true
	case "nvenc", "h264_nvenc":
		return EncoderNVENC, true
	case "amf", "h264_amf":
		return EncoderAMF, true
	case "qsv", "h264_qsv":
		return EncoderQSV, true
	case "vaapi", "h264_vaapi":
		return EncoderVAAPI, true
	}
	return EncoderX264, false
}

// Capabilities is the encoder negotiation result for one capture session. It is
// decided once before spawning and never changes for the lifetime of the session.
type Capabilities struct {
	Encoder   VideoEncoder
	Available []VideoEncoder
}

// ParseEncoderList extracts the supported encoders from `ffmpeg -encoders` output.
// Software x264 is always included.
func ParseEncoderList(output string) []VideoEncoder {
	var available []VideoEncoder
	for _, enc := range encoderPriority {
		if strings.Contains(output, enc.Codec()) {
			available = append(available, enc)
		}
	}
	return append(available, EncoderX264)
}

// SelectEncoder honours an explicit preference when that encoder is available and
// otherwise picks the highest priority available encoder.
func SelectEncoder(available []VideoEncoder, preference string) VideoEncoder {
	if preferred, ok := ParseEncoder(preference); ok {
		for _, enc := range available {
			if enc == preferred {
				return enc
			}
		}
	}

	for _, candidate := range encoderPriority {
		for _, enc := range available {
			if enc == candidate {
				return enc
			}
		}
	}
	return EncoderX264
}

// ProbeEncoders asks the ffmpeg binary which encoders it was built with.
// If ffmpeg cannot be run the result falls back to software encoding.
func ProbeEncoders(ctx context.Context, ffmpegPath, preference string) Capabilities {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Capabilities{Encoder: EncoderX264, Available: []VideoEncoder{EncoderX264}}
	}

	available := ParseEncoderList(string(output))
	return Capabilities{
		Encoder:   SelectEncoder(available, preference),
		Available: available,
	}
}
