package capture

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/ffmpeg"
)

// AudioAcquirer checks that an audio source can be opened before the encoder is spawned
type AudioAcquirer interface {
	Acquire(ctx context.Context, src ffmpeg.AudioInput) (ffmpeg.AudioInput, error)
}

// FileAudioAcquirer verifies that byte stream sources exist. Device selectors are
// passed through; the encoder reports device errors itself.
type FileAudioAcquirer struct{}

func (FileAudioAcquirer) Acquire(ctx context.Context, src ffmpeg.AudioInput) (ffmpeg.AudioInput, error) {
	if src.Name == "" {
		return src, fmt.Errorf("%s source has no name", src.Label)
	}
	if src.Kind != ffmpeg.InputPipe {
		return src, nil
	}
	// Windows named pipes cannot be stat'ed before the server side is listening
	if strings.HasPrefix(src.Name, `\\.\pipe\`) {
		return src, nil
	}
	if _, err := os.Stat(src.Name); err != nil {
		return src, fmt.Errorf("%s stream unavailable: %w", src.Label, err)
	}
	return src, nil
}

// acquireAudio resolves the configured sources, dropping the ones that fail.
// A failed source degrades the session instead of aborting it.
func acquireAudio(ctx context.Context, logger logging.Logger, acquirer AudioAcquirer, sources ...*ffmpeg.AudioInput) []ffmpeg.AudioInput {
	var inputs []ffmpeg.AudioInput
	for _, src := range sources {
		if src == nil {
			continue
		}
		acquired, err := acquirer.Acquire(ctx, *src)
		if err != nil {
			logger.Warn("Audio source unavailable, continuing without it", "source", src.Label, "name", src.Name, "error", err)
			continue
		}
		inputs = append(inputs, acquired)
	}
	return inputs
}
