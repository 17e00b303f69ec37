package segments

import (
	"errors"
	"fmt"
)

// NoSegmentsError is returned when no segment of a track overlaps the requested window
type NoSegmentsError struct {
	Track  Track
	Window Window
}

func (e *NoSegmentsError) Error() string {
	return fmt.Sprintf("no %s segments found in window %s", e.Track, e.Window)
}

// NewNoSegmentsError creates a new NoSegmentsError
func NewNoSegmentsError(track Track, window Window) *NoSegmentsError {
	return &NoSegmentsError{Track: track, Window: window}
}

// IsNoSegmentsError checks if an error is a NoSegmentsError
func IsNoSegmentsError(err error) bool {
	var target *NoSegmentsError
	return errors.As(err, &target)
}

// MetadataNotFoundError is returned when the buffer has no session metadata
type MetadataNotFoundError struct {
	Path string
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("session metadata not found at %s (capture might not have started correctly)", e.Path)
}

// IsMetadataNotFoundError checks if an error is a MetadataNotFoundError
func IsMetadataNotFoundError(err error) bool {
	var target *MetadataNotFoundError
	return errors.As(err, &target)
}
