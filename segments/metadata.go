package segments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataFileName is the session metadata file in the buffer directory
const MetadataFileName = "metadata.json"

// SessionMetadata records the wall-clock spawn times of both encoders, in local epoch ms
type SessionMetadata struct {
	VideoStartTime int64 `json:"video_start_time"`
	AudioStartTime int64 `json:"audio_start_time"`
}

// AudioSkewMs is how much later the audio encoder was spawned than the video encoder
func (m SessionMetadata) AudioSkewMs() int64 {
	return m.AudioStartTime - m.VideoStartTime
}

// WriteMetadata writes the session metadata to dir, replacing any previous file atomically
func WriteMetadata(dir string, md SessionMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, MetadataFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session metadata: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session metadata: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, MetadataFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish session metadata: %w", err)
	}
	return nil
}

// ReadMetadata reads the session metadata from dir
func ReadMetadata(dir string) (*SessionMetadata, error) {
	path := filepath.Join(dir, MetadataFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MetadataNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}

	var md SessionMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse session metadata: %w", err)
	}
	return &md, nil
}
