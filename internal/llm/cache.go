package llm

import (
	"context"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/rs/zerolog/log"
)

// LabelCache persists detected labels per image fingerprint and backend.
type LabelCache interface {
	GetLabels(fingerprint, backend string) ([]string, bool, error)
	SetLabels(fingerprint, backend string, labels []string) error
}

// CachedVision wraps a VisionProvider with a persistent label cache, so images
// analyzed in an earlier session are not sent to the backend again.
type CachedVision struct {
	inner   VisionProvider
	backend VisionBackend
	cache   LabelCache
}

// NewCachedVision creates a cached vision provider.
func NewCachedVision(inner VisionProvider, backend VisionBackend, cache LabelCache) *CachedVision {
	return &CachedVision{inner: inner, backend: backend, cache: cache}
}

func (c *CachedVision) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	key := string(ref.Key)

	labels, ok, err := c.cache.GetLabels(key, c.backend.String())
	if err != nil {
		log.Warn().Err(err).Msg("failed to check label cache")
	} else if ok {
		log.Debug().Str("fingerprint", ref.Key.Short()).Str("backend", c.backend.String()).Msg("label cache hit")
		return labels, nil
	}

	labels, err = c.inner.DetectLabels(ctx, ref)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetLabels(key, c.backend.String(), labels); err != nil {
		log.Warn().Err(err).Msg("failed to cache labels")
	} else {
		log.Debug().Str("fingerprint", ref.Key.Short()).Str("backend", c.backend.String()).Msg("cached labels")
	}

	return labels, nil
}
