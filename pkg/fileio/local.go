package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync/atomic"

	"github.com/spf13/afero"
)

// LocalFileIO reads files below a root directory of an afero filesystem.
type LocalFileIO struct {
	fs     afero.Fs
	root   string
	closed atomic.Bool
}

// NewLocalFileIO roots a FileIO at root on fsys.
func NewLocalFileIO(fsys afero.Fs, root string) *LocalFileIO {
	return &LocalFileIO{
		fs:   afero.NewBasePathFs(fsys, root),
		root: root,
	}
}

// Root returns the directory the FileIO is rooted at.
func (l *LocalFileIO) Root() string {
	return l.root
}

// Open implements FileIO.
func (l *LocalFileIO) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	f, err := l.fs.Open(clean(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Exists implements FileIO.
func (l *LocalFileIO) Exists(_ context.Context, name string) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}
	return afero.Exists(l.fs, clean(name))
}

// Close implements FileIO. Repeated calls return nil.
func (l *LocalFileIO) Close() error {
	l.closed.Store(true)
	return nil
}

// clean makes name absolute within the root so it cannot climb out of it.
func clean(name string) string {
	return path.Clean("/" + name)
}
