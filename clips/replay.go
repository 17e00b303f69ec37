package clips

import (
	"time"
)

// Replay is a saved replay clip in the catalog
type Replay struct {
	ID            string
	FilePath      string
	TriggerTime   time.Time
	StartTimeUTC  *int64 // network-corrected start of the clip in epoch ms, nil when unknown
	Duration      time.Duration
	HasAudio      bool
	FormatVersion int
	CreatedAt     time.Time
}

// ReplayQuery represents query parameters for listing replays
type ReplayQuery struct {
	StartTime *time.Time // filter on trigger time
	EndTime   *time.Time
	HasAudio  *bool // nil means no filter
	Page      int   // 1-based, ignored when PageSize is 0
	PageSize  int   // 0 means no limit
}
