package replay

// FormatVersion identifies the layout of saved clips: H.264 video stream-copied
// from the buffer, AAC audio, MP4 container with the index at the front.
const FormatVersion = 1

// Result describes a saved replay
type Result struct {
	ID             string `json:"id"`
	FilePath       string `json:"file_path"`
	DurationMs     int64  `json:"duration_ms"`
	StartTimeUTCMs *int64 `json:"start_time_utc_ms,omitempty"`
	FormatVersion  int    `json:"format_version"`
	HasAudio       bool   `json:"has_audio"`
	TriggerTimeMs  int64  `json:"trigger_time_ms"`
}

// Notifier is told about every saved replay
type Notifier interface {
	ReplaySaved(result *Result)
}

type nopNotifier struct{}

func (nopNotifier) ReplaySaved(*Result) {}
