package blobstore

import (
	"context"
	"sync"

	"github.com/raine/telegram-recommender-bot/internal/imaging"
)

// MemoryStore keeps blobs in a map. It is used in tests and for one-off batch
// runs where nothing needs to outlive the process.
type MemoryStore struct {
	resolver Resolver
	mu       sync.RWMutex
	blobs    map[imaging.Fingerprint]Blob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(resolver Resolver) *MemoryStore {
	return &MemoryStore{
		resolver: resolver,
		blobs:    make(map[imaging.Fingerprint]Blob),
	}
}

func (s *MemoryStore) Exists(ctx context.Context, fp imaging.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[fp]
	return ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, fp imaging.Fingerprint, img imaging.NormalizedImage) (Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[fp]; !ok {
		data := make([]byte, len(img.Data))
		copy(data, img.Data)
		s.blobs[fp] = Blob{Data: data, ContentType: img.ContentType}
	}
	return s.resolver.Resolve(fp), nil
}

func (s *MemoryStore) Resolve(fp imaging.Fingerprint) Reference {
	return s.resolver.Resolve(fp)
}

func (s *MemoryStore) Get(ctx context.Context, fp imaging.Fingerprint) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[fp]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
