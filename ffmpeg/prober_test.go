package ffmpeg

import (
	"testing"
	"time"
)

func TestParseMediaInfo(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		duration time.Duration
		video    bool
		audio    bool
		wantErr  bool
	}{
		{
			name:     "video and audio",
			out:      `{"streams":[{"codec_type":"video"},{"codec_type":"audio"}],"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"30.016000"}}`,
			duration: 30016 * time.Millisecond,
			video:    true,
			audio:    true,
		},
		{
			name:     "video only",
			out:      `{"streams":[{"codec_type":"video"}],"format":{"format_name":"matroska,webm","duration":"2.000000"}}`,
			duration: 2 * time.Second,
			video:    true,
		},
		{
			name:  "no duration",
			out:   `{"streams":[{"codec_type":"audio"}],"format":{"format_name":"matroska,webm","duration":"N/A"}}`,
			audio: true,
		},
		{name: "garbage", out: "not json", wantErr: true},
		{name: "bad duration", out: `{"format":{"duration":"soon"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseMediaInfo([]byte(tt.out))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if info.Duration != tt.duration || info.HasVideo != tt.video || info.HasAudio != tt.audio {
				t.Errorf("Unexpected info %+v", info)
			}
		})
	}
}

func TestNewFFProbe_ConfiguredPathBypassesTranscoder(t *testing.T) {
	p := NewFFProbe(nil, "/opt/ffmpeg/bin/ffprobe")
	if p.useTranscoder {
		t.Error("Expected a configured ffprobe path to bypass goffmpeg")
	}

	t.Setenv("PATH", t.TempDir())
	if NewFFProbe(nil, "").useTranscoder {
		t.Error("Expected ffprobe to run directly when it is not on PATH")
	}
}

func TestFFProbe_InspectMissingBinary(t *testing.T) {
	p := NewFFProbe(nil, "/nonexistent/ffprobe")
	if _, err := p.Inspect("clip.mp4"); err == nil {
		t.Error("Expected error for missing ffprobe binary")
	}
}
