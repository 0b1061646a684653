package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const LocalBackendName = "local"

// LocalBackend stores files under a root directory. Its tokens are
// absolute file paths.
type LocalBackend struct {
	root    string
	baseURL string
}

// NewLocalBackend creates the root directory if needed.
func NewLocalBackend(root, baseURL string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (b *LocalBackend) Name() string { return LocalBackendName }

// Root returns the absolute storage root.
func (b *LocalBackend) Root() string { return b.root }

func (b *LocalBackend) Save(ctx context.Context, r io.Reader, filename, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(b.root, objectName(filename))
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close file: %w", err)
	}
	return dst, nil
}

func (b *LocalBackend) Delete(_ context.Context, token string) error {
	p, err := b.LocalPath(token)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, token)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (b *LocalBackend) URL(_ context.Context, token string) (string, error) {
	p, err := b.LocalPath(token)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(b.root, p)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	return b.baseURL + "/" + (&url.URL{Path: filepath.ToSlash(rel)}).EscapedPath(), nil
}

// Download copies the file to a temporary location. Callers that can read
// the file in place should use LocalPath instead.
func (b *LocalBackend) Download(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := b.LocalPath(token)
	if err != nil {
		return "", err
	}
	src, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, token)
		}
		return "", fmt.Errorf("open file: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "picflow-*"+filepath.Ext(p))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copy to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func (b *LocalBackend) Exists(_ context.Context, token string) (bool, error) {
	p, err := b.LocalPath(token)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// LocalPath resolves a token to a path on disk. Relative tokens are taken
// relative to the root.
func (b *LocalBackend) LocalPath(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if filepath.IsAbs(token) {
		return filepath.Clean(token), nil
	}
	p := filepath.Join(b.root, token)
	if p != b.root && !strings.HasPrefix(p, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", token)
	}
	return p, nil
}
