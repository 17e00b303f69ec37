package handlers

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// magicHeaderSize is enough to see the ftyp box and its major brand
const magicHeaderSize = 12

// mp4Brands contains the major brands the muxer and common players write after ftyp
var mp4Brands = [][]byte{
	[]byte("isom"),
	[]byte("iso2"),
	[]byte("mp41"),
	[]byte("mp42"),
	[]byte("avc1"),
	[]byte("dash"),
}

// IsVideoFile checks if the provided data starts like an MP4 or Matroska file
func IsVideoFile(data []byte) (bool, string, error) {
	if len(data) < magicHeaderSize {
		return false, "", fmt.Errorf("data too short to determine file type")
	}

	// Matroska, used for stitched intermediate tracks
	if bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return true, "mkv", nil
	}

	// MP4 with any box size, brand starts at offset 8
	if bytes.Equal(data[4:8], []byte("ftyp")) {
		brand := data[8:12]
		for _, valid := range mp4Brands {
			if bytes.Equal(brand, valid) {
				return true, "mp4", nil
			}
		}
	}

	return false, "", nil
}

// sniffVideoFile reads the header of the file at path and checks it with IsVideoFile
func sniffVideoFile(path string) (bool, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, "", err
	}
	defer file.Close()

	header := make([]byte, magicHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return false, "", fmt.Errorf("failed to read file header: %w", err)
	}
	return IsVideoFile(header)
}
