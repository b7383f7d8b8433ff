package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/rs/zerolog/log"
)

// FileStore stores blobs as files under {dir}/{namespace}/{fingerprint}.
// Existence is a single stat of the keyed path.
type FileStore struct {
	resolver Resolver
	root     string
}

// NewFileStore creates the namespace directory if needed.
func NewFileStore(dir string, resolver Resolver) (*FileStore, error) {
	root := filepath.Join(dir, resolver.Namespace)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{resolver: resolver, root: root}, nil
}

func (s *FileStore) path(fp imaging.Fingerprint) (string, error) {
	if !fp.Valid() {
		return "", fmt.Errorf("invalid fingerprint: %q", fp)
	}
	return filepath.Join(s.root, string(fp)), nil
}

func (s *FileStore) Exists(ctx context.Context, fp imaging.Fingerprint) (bool, error) {
	p, err := s.path(fp)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// Put writes to a temp file and renames it into place, so concurrent writers
// of the same fingerprint never expose a partial file.
func (s *FileStore) Put(ctx context.Context, fp imaging.Fingerprint, img imaging.NormalizedImage) (Reference, error) {
	p, err := s.path(fp)
	if err != nil {
		return Reference{}, err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return Reference{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(img.Data); err != nil {
		tmp.Close()
		return Reference{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Reference{}, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return Reference{}, fmt.Errorf("failed to store blob: %w", err)
	}

	log.Debug().Str("fingerprint", fp.Short()).Int("bytes", len(img.Data)).Msg("stored blob")
	return s.resolver.Resolve(fp), nil
}

func (s *FileStore) Resolve(fp imaging.Fingerprint) Reference {
	return s.resolver.Resolve(fp)
}

func (s *FileStore) Get(ctx context.Context, fp imaging.Fingerprint) (Blob, error) {
	p, err := s.path(fp)
	if err != nil {
		return Blob{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read blob: %w", err)
	}
	return Blob{Data: data, ContentType: http.DetectContentType(data)}, nil
}
