package pmtiles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FileReader is a RangeReader backed by an OS file handle. Positional reads
// via os.File.ReadAt are re-entrant, so a single FileReader instance is
// safe for concurrent callers without a cursor or a per-call lock.
type FileReader struct {
	path string
	file *os.File
}

// OpenFile opens path for positional reads. path may be given either as a
// bare filesystem path or as a "file://" URI.
func OpenFile(path string) (*FileReader, error) {
	path = strings.TrimPrefix(path, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIOError("opening file", err, false)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &FileReader{path: filepath.ToSlash(abs), file: f}, nil
}

func (r *FileReader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	size, err := r.Size(ctx)
	if err != nil {
		return 0, err
	}
	if err := validateReadArgs(size, offset, len(dst)); err != nil {
		return 0, err
	}
	n := clampLength(size, offset, len(dst))
	read, err := r.file.ReadAt(dst[:n], int64(offset))
	if err != nil && read == 0 {
		return 0, wrapIOError("reading file range", err, false)
	}
	return read, nil
}

func (r *FileReader) Size(context.Context) (uint64, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, wrapIOError("stat file", err, false)
	}
	return uint64(info.Size()), nil
}

func (r *FileReader) SourceID() string {
	return "file://" + r.path
}

// Close releases the underlying file handle.
func (r *FileReader) Close() error {
	return r.file.Close()
}

type fileFactory struct{}

func (fileFactory) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "file://") || !strings.Contains(uri, "://")
}

func (fileFactory) Open(_ context.Context, uri string, _ ...Option) (RangeReader, error) {
	return OpenFile(uri)
}

func init() {
	defaultRegistry.Register(fileFactory{})
}
