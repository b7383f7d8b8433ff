package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

const hashLen = sha256.Size * 2

// Fingerprint is the content-derived identity of an image: the hex sha256 of
// its bytes, a dot, and the original filename extension. It is used as both
// the blob storage key and the label cache key.
type Fingerprint string

// FingerprintOf computes the fingerprint of image content. The filename only
// contributes its extension; when it has none, the extension is sniffed from
// the content.
func FingerprintOf(data []byte, filename string) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]) + "." + extension(filename, data))
}

// ParseFingerprint validates a fingerprint received from an untrusted source
// such as an HTTP path.
func ParseFingerprint(s string) (Fingerprint, error) {
	fp := Fingerprint(s)
	if !fp.Valid() {
		return "", fmt.Errorf("invalid fingerprint: %q", s)
	}
	return fp, nil
}

// Hash returns the hex digest part.
func (f Fingerprint) Hash() string {
	s := string(f)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Ext returns the extension part without the dot.
func (f Fingerprint) Ext() string {
	s := string(f)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// Short returns an abbreviated form for logging.
func (f Fingerprint) Short() string {
	h := f.Hash()
	if len(h) > 12 {
		h = h[:12]
	}
	return h
}

func (f Fingerprint) String() string {
	return string(f)
}

// Valid reports whether f has the shape produced by FingerprintOf.
func (f Fingerprint) Valid() bool {
	h := f.Hash()
	if len(h) != hashLen || len(string(f)) == hashLen {
		return false
	}
	if _, err := hex.DecodeString(h); err != nil {
		return false
	}
	return validExt(f.Ext())
}

func extension(filename string, data []byte) string {
	ext := strings.TrimPrefix(filepath.Ext(filepath.Base(filename)), ".")
	if validExt(ext) {
		return ext
	}
	return sniffExtension(data)
}

func validExt(ext string) bool {
	if ext == "" || len(ext) > 10 {
		return false
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func sniffExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}
