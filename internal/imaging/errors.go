package imaging

import (
	"errors"
	"fmt"
)

var errEmptyImage = errors.New("empty image data")

// DecodeError is returned when image content cannot be decoded or re-encoded.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("failed to decode image: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode image %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
