package imaging

import (
	"fmt"
	"os"
	"path/filepath"
)

// Image is an uploaded photo as received from a caller. It is not retained
// after fingerprinting and normalization.
type Image struct {
	Data     []byte
	Filename string
}

// FromBytes wraps uploaded content, e.g. a photo downloaded from Telegram.
func FromBytes(data []byte, filename string) Image {
	return Image{Data: data, Filename: filename}
}

// FromPath reads an image file from disk. Used by the batch entry point.
func FromPath(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return Image{Data: data, Filename: filepath.Base(path)}, nil
}

// Prepared is an image whose fingerprint is known. Normalization is deferred
// until the image actually needs to be stored.
type Prepared struct {
	Fingerprint Fingerprint
	Source      Image
}

// Prepare fingerprints an image without decoding it.
func Prepare(img Image) (Prepared, error) {
	if len(img.Data) == 0 {
		return Prepared{}, &DecodeError{Filename: img.Filename, Err: errEmptyImage}
	}
	return Prepared{
		Fingerprint: FingerprintOf(img.Data, img.Filename),
		Source:      img,
	}, nil
}

// Normalize decodes and downscales the source image.
func (p Prepared) Normalize() (NormalizedImage, error) {
	n, err := Normalize(p.Source.Data)
	if err != nil {
		if de, ok := err.(*DecodeError); ok {
			de.Filename = p.Source.Filename
		}
		return NormalizedImage{}, err
	}
	return n, nil
}
