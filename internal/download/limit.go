package download

import (
	"fmt"
	"io"
)

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	// Read one byte past the limit to detect oversized bodies even when
	// Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("image too large: exceeds limit of %d bytes", maxSize)
	}
	return data, nil
}
