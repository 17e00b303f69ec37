package segments

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadPlaylist returns the media entries of an m3u8 playlist in order
func ReadPlaylist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	return entries, nil
}

// TrackLive reports whether the encoder of the track has written its liveness playlist
// in the current session.
func (s *Store) TrackLive(track Track) bool {
	_, err := os.Stat(filepath.Join(s.dir, PlaylistName(track)))
	return err == nil
}

// PlaylistEntries returns the segment filenames the encoder has closed, oldest first
func (s *Store) PlaylistEntries(track Track) ([]string, error) {
	return ReadPlaylist(filepath.Join(s.dir, PlaylistName(track)))
}
