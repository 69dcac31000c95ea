package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore serves resources from a local directory laid out like a remote index.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Fetch opens the resource file.
func (s *FileStore) Fetch(ctx context.Context, resource string, progress ProgressFunc) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}

	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(resource)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FetchError{Resource: resource, Err: ErrNotFound}
		}
		return nil, &FetchError{Resource: resource, Err: err}
	}

	total := int64(-1)
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}
	return withProgress(f, resource, total, progress), nil
}
