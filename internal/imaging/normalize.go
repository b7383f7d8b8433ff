package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension is the upper bound for both width and height of a
	// normalized image.
	MaxDimension = 1024
	jpegQuality  = 90
)

// NormalizedImage is the downscaled representation that gets stored under
// the image's fingerprint.
type NormalizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Normalize decodes an image, applies its EXIF orientation and downscales it
// proportionally so that neither dimension exceeds MaxDimension. Images that
// are already small enough and upright are returned unchanged.
func Normalize(data []byte) (NormalizedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return NormalizedImage{}, &DecodeError{Err: err}
	}

	orientation := 1
	if format == "jpeg" {
		orientation = exifOrientation(data)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= MaxDimension && height <= MaxDimension && orientation == 1 {
		return NormalizedImage{
			Data:        data,
			ContentType: contentType(format),
			Width:       width,
			Height:      height,
		}, nil
	}

	newWidth, newHeight := fitWithin(width, height, MaxDimension)
	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	var out image.Image = scaled
	if orientation != 1 {
		out = applyOrientation(scaled, orientation)
	}

	encoded, outFormat, err := encode(out, format)
	if err != nil {
		return NormalizedImage{}, &DecodeError{Err: err}
	}

	ob := out.Bounds()
	log.Debug().
		Int("originalWidth", width).
		Int("originalHeight", height).
		Int("width", ob.Dx()).
		Int("height", ob.Dy()).
		Int("orientation", orientation).
		Int("bytesIn", len(data)).
		Int("bytesOut", len(encoded)).
		Msg("normalized image")

	return NormalizedImage{
		Data:        encoded,
		ContentType: contentType(outFormat),
		Width:       ob.Dx(),
		Height:      ob.Dy(),
	}, nil
}

// fitWithin returns dimensions scaled to fit a max x max box, preserving the
// aspect ratio. Dimensions already within bounds are returned as is.
func fitWithin(width, height, max int) (int, int) {
	if width <= max && height <= max {
		return width, height
	}
	if width >= height {
		h := int(float64(height)*float64(max)/float64(width) + 0.5)
		if h < 1 {
			h = 1
		}
		return max, h
	}
	w := int(float64(width)*float64(max)/float64(height) + 0.5)
	if w < 1 {
		w = 1
	}
	return w, max
}

func encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		// png, and formats we can decode but not encode (webp)
		format = "png"
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

func contentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// exifOrientation returns the EXIF orientation tag, or 1 when absent.
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms img so that it displays upright for the given
// EXIF orientation value (2-8).
func applyOrientation(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if orientation >= 5 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch orientation {
			case 2:
				dst.Set(w-1-x, y, c)
			case 3:
				dst.Set(w-1-x, h-1-y, c)
			case 4:
				dst.Set(x, h-1-y, c)
			case 5:
				dst.Set(y, x, c)
			case 6:
				dst.Set(h-1-y, x, c)
			case 7:
				dst.Set(h-1-y, w-1-x, c)
			case 8:
				dst.Set(y, w-1-x, c)
			default:
				dst.Set(x, y, c)
			}
		}
	}
	return dst
}
