// Package blobstore provides content-addressed storage for normalized images.
// Objects are keyed by their fingerprint, so storing the same image twice is a
// no-op and images submitted in earlier sessions are never uploaded again.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raine/telegram-recommender-bot/internal/imaging"
)

const (
	DefaultNamespace = "recommender-images"
	DefaultDomain    = "s3.amazonaws.com"
)

// ErrNotFound is returned by Get when no object is stored under a key.
var ErrNotFound = errors.New("blob not found")

// Reference points to a stored image. URL is publicly fetchable when the
// namespace is served, which generative vision backends rely on.
type Reference struct {
	Namespace string
	Key       imaging.Fingerprint
	URL       string
}

// Blob is a stored object.
type Blob struct {
	Data        []byte
	ContentType string
}

// Store is a content-addressed blob store.
type Store interface {
	// Exists reports whether an object is stored under fp.
	Exists(ctx context.Context, fp imaging.Fingerprint) (bool, error)
	// Put stores img under fp. Storing the same fingerprint again is a no-op
	// and yields the same reference.
	Put(ctx context.Context, fp imaging.Fingerprint, img imaging.NormalizedImage) (Reference, error)
	// Resolve builds the reference for fp without any I/O.
	Resolve(fp imaging.Fingerprint) Reference
	// Get returns the stored object or ErrNotFound.
	Get(ctx context.Context, fp imaging.Fingerprint) (Blob, error)
}

// Resolver turns fingerprints into references for a fixed namespace.
type Resolver struct {
	Namespace string
	Domain    string
	// BaseURL overrides the https://{namespace}.{domain} form, e.g. when the
	// store is served by the bot's own HTTP server. It must include the
	// mount path: http://host:8080/blobs gives http://host:8080/blobs/{fp}.
	BaseURL string
}

// NewResolver returns a resolver with defaults filled in.
func NewResolver(namespace, domain, baseURL string) Resolver {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return Resolver{
		Namespace: namespace,
		Domain:    domain,
		BaseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Resolve builds the public reference for fp.
func (r Resolver) Resolve(fp imaging.Fingerprint) Reference {
	url := fmt.Sprintf("https://%s.%s/%s", r.Namespace, r.Domain, fp)
	if r.BaseURL != "" {
		url = r.BaseURL + "/" + string(fp)
	}
	return Reference{Namespace: r.Namespace, Key: fp, URL: url}
}
