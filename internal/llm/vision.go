package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/imaging"
)

// VisionBackend selects one of the interchangeable vision providers.
type VisionBackend int

const (
	// VisionStructured is the fast label-detection service with confidence scores.
	VisionStructured VisionBackend = iota + 1
	// VisionGenerative is a multimodal LLM asked to list what it sees.
	VisionGenerative
)

// VisionBackends lists all vision backends in display order.
var VisionBackends = []VisionBackend{VisionStructured, VisionGenerative}

func (b VisionBackend) String() string {
	switch b {
	case VisionStructured:
		return "structured"
	case VisionGenerative:
		return "generative"
	default:
		return "unknown"
	}
}

// Label is the human readable name shown to users.
func (b VisionBackend) Label() string {
	switch b {
	case VisionStructured:
		return "Cloud Vision (faster)"
	case VisionGenerative:
		return "Generative vision (slower)"
	default:
		return "Unknown"
	}
}

// ParseVisionBackend parses the String form of a vision backend.
func ParseVisionBackend(s string) (VisionBackend, error) {
	for _, b := range VisionBackends {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown vision backend: %q", s)
}

// VisionProvider detects labels in a stored image.
type VisionProvider interface {
	// DetectLabels returns labels describing the image, at most the
	// provider's configured cap.
	DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error)
}

// VisionSet binds each vision backend to its provider.
type VisionSet struct {
	Structured VisionProvider
	Generative VisionProvider
}

// ErrBackendUnavailable is returned when a backend has no configured provider.
var ErrBackendUnavailable = errors.New("backend not configured")

// For returns the provider bound to b.
func (s VisionSet) For(b VisionBackend) (VisionProvider, error) {
	var p VisionProvider
	switch b {
	case VisionStructured:
		p = s.Structured
	case VisionGenerative:
		p = s.Generative
	default:
		return nil, fmt.Errorf("unknown vision backend: %d", b)
	}
	if p == nil {
		return nil, fmt.Errorf("vision backend %s: %w", b, ErrBackendUnavailable)
	}
	return p, nil
}

// VisionProviderError is returned when a vision backend call fails or
// returns unusable data.
type VisionProviderError struct {
	Backend VisionBackend
	Err     error
}

func (e *VisionProviderError) Error() string {
	return fmt.Sprintf("vision backend %s failed: %v", e.Backend, e.Err)
}

func (e *VisionProviderError) Unwrap() error {
	return e.Err
}

// BlobReader reads stored images from the blob store namespace.
type BlobReader interface {
	Get(ctx context.Context, fp imaging.Fingerprint) (blobstore.Blob, error)
}

func readBlob(ctx context.Context, blobs BlobReader, ref blobstore.Reference) (blobstore.Blob, error) {
	blob, err := blobs.Get(ctx, ref.Key)
	if err != nil {
		return blobstore.Blob{}, fmt.Errorf("failed to read %s from %s: %w", ref.Key, ref.Namespace, err)
	}
	if blob.ContentType == "" {
		blob.ContentType = "image/jpeg"
	}
	return blob, nil
}

// dataURL inlines a stored image for backends that cannot reach the store.
func dataURL(blob blobstore.Blob) string {
	return fmt.Sprintf("data:%s;base64,%s", blob.ContentType, base64.StdEncoding.EncodeToString(blob.Data))
}
