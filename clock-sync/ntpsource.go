package clocksync

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// NTPSource samples an NTP server
type NTPSource struct {
	Server  string
	Timeout time.Duration
}

// NewNTPSource creates a TimeSource for the given NTP server
func NewNTPSource(server string, timeout time.Duration) *NTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NTPSource{Server: server, Timeout: timeout}
}

func (s *NTPSource) Sample(ctx context.Context) (Sample, error) {
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Sample{}, context.DeadlineExceeded
	}

	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return Sample{}, fmt.Errorf("ntp query to %s failed: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return Sample{}, fmt.Errorf("invalid ntp response from %s: %w", s.Server, err)
	}

	return Sample{Offset: resp.ClockOffset, RoundTrip: resp.RTT}, nil
}
