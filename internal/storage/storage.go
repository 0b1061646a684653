// Package storage abstracts where picture files live. Each backend is
// identified by a short tag that is persisted on the picture row.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("object not found")
var ErrUnknownBackend = errors.New("unknown storage backend")

// Backend is a place picture files can be saved to and fetched from.
// Tokens returned by Save are opaque to callers.
type Backend interface {
	Name() string
	Save(ctx context.Context, r io.Reader, filename, contentType string) (string, error)
	Delete(ctx context.Context, token string) error
	URL(ctx context.Context, token string) (string, error)
	// Download copies the object into a new local temporary file and
	// returns its path. The caller owns the file.
	Download(ctx context.Context, token string) (string, error)
	Exists(ctx context.Context, token string) (bool, error)
}

// LocalResolver is implemented by backends whose tokens already name files
// on local disk, so no download is needed to read them.
type LocalResolver interface {
	LocalPath(token string) (string, error)
}

// Registry holds the configured backends keyed by tag.
type Registry struct {
	backends    map[string]Backend
	defaultName string
}

// NewRegistry creates a Registry. defaultName must name one of backends.
func NewRegistry(defaultName string, backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends)), defaultName: defaultName}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	if _, ok := r.backends[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownBackend, defaultName)
	}
	return r, nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// Default returns the backend new uploads are written to.
func (r *Registry) Default() Backend {
	return r.backends[r.defaultName]
}

// SourceExists reports whether token is still reachable on the named backend.
func (r *Registry) SourceExists(ctx context.Context, backend, token string) (bool, error) {
	b, err := r.Get(backend)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, token)
}

// objectName builds a collision-free name that keeps the original extension.
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	return uuid.NewString() + ext
}
