// Package fileio reads table files from local disk or S3 and caches one
// FileIO per (table, location) pair.
package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when the requested file does not exist.
	ErrNotFound = errors.New("fileio: file not found")

	// ErrClosed is returned by operations on a closed FileIO or Cache.
	ErrClosed = errors.New("fileio: closed")

	// ErrLoadPanic is returned to Gets waiting on a load whose loader panicked.
	ErrLoadPanic = errors.New("fileio: loader panicked")

	// ErrUnsupportedScheme is returned for locations whose scheme has no
	// implementation.
	ErrUnsupportedScheme = errors.New("fileio: unsupported location scheme")
)

// Storage schemes.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// FileIO reads files below a table location. Paths are relative to the
// location.
type FileIO interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Close() error
}

// S3Options configures the S3 client used for s3:// locations.
type S3Options struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// Options configure New.
type Options struct {
	// Fs backs local locations. Defaults to the OS filesystem.
	Fs afero.Fs

	S3 S3Options
}

// Scheme returns the storage scheme of location. Locations without a
// scheme are local paths.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return SchemeFile
	}
	return strings.ToLower(location[:i])
}

// New opens the FileIO implementation matching location's scheme.
func New(ctx context.Context, location string, opts Options) (FileIO, error) {
	switch Scheme(location) {
	case SchemeFile:
		root := location
		if strings.HasPrefix(location, "file://") {
			u, err := url.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("parse location %q: %w", location, err)
			}
			root = u.Path
		}
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewLocalFileIO(fs, root), nil

	case SchemeS3:
		return NewS3FileIO(ctx, location, opts.S3)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, location)
	}
}
