package pmtiles

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// RangeReader is the single read contract every backend and decorator in the
// C1/C2 stack implements (spec.md §4.1). Implementations must support
// concurrent ReadRange/Size/SourceID calls from multiple goroutines sharing
// one instance: there is no per-reader cursor.
type RangeReader interface {
	// ReadRange reads up to len(dst) bytes starting at offset into dst and
	// returns the number of bytes actually read. A short read is only valid
	// at EOF (offset+len(dst) beyond Size); otherwise a short read without
	// error is a backend bug. Fails with CodeOutOfRange if offset is at or
	// past the source size, CodeInvalidArgument for a zero-length dst, and
	// CodeIO/CodeTimeout for transport failures.
	ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error)

	// Size returns the total byte length of the source, or
	// CodeSizeUnknown if the backend cannot report one.
	Size(ctx context.Context) (uint64, error)

	// SourceID is a stable identifier of the underlying source used to
	// namespace cache keys, e.g. "file:///abs/path" or "s3://bucket/key".
	// The memory, disk and block-aligned decorators return their inner
	// reader's SourceID unchanged; it does not name the decorator layer.
	SourceID() string
}

// validateReadArgs is the thin common-argument-validation helper the file
// and HTTP backends call before touching the transport. The s3, azure and
// gcs backends do not call it: they check only for a zero length and leave
// an offset past the end to the service's own range error.
func validateReadArgs(size uint64, offset uint64, dstLen int) error {
	if dstLen == 0 {
		return newError(CodeInvalidArgument, "length must be greater than zero")
	}
	if offset >= size {
		return newError(CodeOutOfRange, "offset is at or past the end of the source")
	}
	return nil
}

// clampLength returns the number of bytes that can actually be read from
// offset given a source of the given size and a requested length, allowing a
// short read at EOF per spec.md §4.1 and §8 ("Range-reader short-read").
func clampLength(size, offset uint64, requested int) int {
	remaining := size - offset
	if remaining < uint64(requested) {
		return int(remaining)
	}
	return requested
}

// Factory constructs a RangeReader for a URI this factory CanHandle.
// Factories are registered explicitly (Design Notes §9: "a registry of
// (scheme, factory) pairs populated explicitly at startup ... Do NOT rely on
// reflective discovery").
type Factory interface {
	CanHandle(uri string) bool
	Open(ctx context.Context, uri string, opts ...Option) (RangeReader, error)
}

// Registry is an explicit, mutable set of (scheme, factory) pairs. The
// package-level DefaultRegistry is populated in init() with the file, http,
// s3, azure, and gcs factories; callers needing a custom or additional
// backend construct their own Registry with NewRegistry and Register.
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends f to the registry. Factories are tried in registration
// order; the first whose CanHandle returns true is used.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Open resolves uri against the registered factories and opens a
// RangeReader. Fails with CodeUnsupported if no factory can handle uri.
func (r *Registry) Open(ctx context.Context, uri string, opts ...Option) (RangeReader, error) {
	r.mu.RLock()
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.RUnlock()

	for _, f := range factories {
		if f.CanHandle(uri) {
			return f.Open(ctx, uri, opts...)
		}
	}
	return nil, newError(CodeUnsupported, fmt.Sprintf("no registered backend can handle uri %q", uri))
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the package-wide Factory registry, pre-populated
// with the file, http(s), s3, azure (az), and gcs (gs) backends.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Open is shorthand for DefaultRegistry().Open.
func Open(ctx context.Context, uri string, opts ...Option) (RangeReader, error) {
	return defaultRegistry.Open(ctx, uri, opts...)
}

func schemeOf(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i]
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Scheme
}
