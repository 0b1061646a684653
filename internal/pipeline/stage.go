package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/picflow/internal/storage"
)

// stagedFile is the local copy of an original. temp is set when the file
// was downloaded and must be removed after the job.
type stagedFile struct {
	path string
	temp bool
}

// stage resolves a local path for the original. Backends that keep files on
// disk are read in place; others are downloaded to a temporary file.
func stage(ctx context.Context, backend storage.Backend, token string) (*stagedFile, error) {
	if resolver, ok := backend.(storage.LocalResolver); ok {
		path, err := resolver.LocalPath(token)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrOriginalNotFound, token)
			}
			return nil, fmt.Errorf("resolve original %s: %w", token, err)
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrOriginalNotFound, path)
			}
			return nil, fmt.Errorf("stat original %s: %w", path, err)
		}
		return &stagedFile{path: path}, nil
	}

	path, err := backend.Download(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOriginalNotFound, token)
		}
		return nil, fmt.Errorf("download original %s from %s: %w", token, backend.Name(), err)
	}
	return &stagedFile{path: path, temp: true}, nil
}

// cleanup removes a downloaded temp file. Failures are only logged.
func (f *stagedFile) cleanup(log *slog.Logger) {
	if f == nil || !f.temp {
		return
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove staged file", "path", f.path, "error", err)
	}
}
