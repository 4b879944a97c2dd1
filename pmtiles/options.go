package pmtiles

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// options is the shared configuration bag passed to every backend
// Factory.Open. Only the HTTP factory reads it; the file, s3, azure and gcs
// factories ignore every Option. Built from a varargs Option list rather
// than one struct per backend so a caller can pass the same Option slice
// through Open regardless of which scheme it resolves to.
type options struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	maxConnections int
	httpClient     *http.Client
	logger         *zap.Logger
}

func defaultOptions() *options {
	return &options{
		connectTimeout: 5 * time.Second,
		readTimeout:    30 * time.Second,
		maxConnections: 64,
		logger:         zap.NewNop(),
	}
}

// Option configures a backend opened via Open/Registry.Open.
type Option func(*options)

// WithConnectTimeout sets the connect timeout (default 5s). The HTTP
// backend applies the sum of the connect and read timeouts as its
// http.Client's overall request timeout, and ignores both when WithHTTPClient
// supplies the client; the s3, azure and gcs backends do not apply them.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithReadTimeout sets the read timeout (default 30s); see
// WithConnectTimeout for how it is applied.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithMaxConnections bounds the HTTP backend's connection pool size.
func WithMaxConnections(n int) Option {
	return func(o *options) { o.maxConnections = n }
}

// WithHTTPClient overrides the *http.Client used by the HTTP backend,
// primarily for tests that need to substitute a mock RoundTripper.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger attaches a *zap.Logger the HTTP backend uses to warn when a
// ranged read has exhausted its retries. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func resolveOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MemoryCacheOptions configures NewMemoryCache (spec.md §6).
type MemoryCacheOptions struct {
	// MaxCostBytes bounds the cumulative weight of cached entries.
	MaxCostBytes int64
	// ExpireAfterAccess evicts an entry if it has not been read for this
	// long. Zero disables idle expiry.
	ExpireAfterAccess time.Duration
	Logger            *zap.Logger
}

// DefaultMemoryCacheOptions returns the defaults used when a zero-value
// MemoryCacheOptions is passed: 64MiB budget, 5 minute idle TTL.
func DefaultMemoryCacheOptions() MemoryCacheOptions {
	return MemoryCacheOptions{
		MaxCostBytes:      64 << 20,
		ExpireAfterAccess: 5 * time.Minute,
	}
}

// DiskCacheOptions configures NewDiskCache (spec.md §6).
type DiskCacheOptions struct {
	CacheDirectory    string
	MaxCacheSizeBytes int64
	DeleteOnClose     bool
	Logger            *zap.Logger
}

// BlockAlignedOptions configures NewBlockAlignedReader (spec.md §6).
type BlockAlignedOptions struct {
	// BlockSize must be a power of two; defaults to 64KiB.
	BlockSize uint32
}

// DefaultBlockAlignedOptions returns the 64KiB default block size
// recommended by spec.md §4.2.3.
func DefaultBlockAlignedOptions() BlockAlignedOptions {
	return BlockAlignedOptions{BlockSize: 64 * 1024}
}

// DirectoryCacheOptions configures NewDirectoryCache (spec.md §6).
type DirectoryCacheOptions struct {
	// MaxHeapPercent bounds the cache's share of a nominal heap budget,
	// expressed as a percentage in [1,50]; translated to a cost budget at
	// construction time against MaxHeapBytes.
	MaxHeapPercent int
	// MaxHeapBytes is the heap budget MaxHeapPercent is a fraction of.
	// Defaults to 256MiB if zero, which is a reasonable stand-in for
	// "process max heap" absent a runtime memory-limit API guarantee.
	MaxHeapBytes int64
	// ExpireAfterAccess is the idle TTL (default 10s per spec.md §4.6).
	ExpireAfterAccess time.Duration
	// MaxLeafDepth bounds directory traversal depth (default 4, spec.md §4.7).
	MaxLeafDepth int
	Logger       *zap.Logger
	Metrics      *Metrics
}

// DefaultDirectoryCacheOptions returns spec.md's stated defaults: ~5% of a
// 256MiB nominal heap budget, 10s idle TTL, max leaf depth 4.
func DefaultDirectoryCacheOptions() DirectoryCacheOptions {
	return DirectoryCacheOptions{
		MaxHeapPercent:    5,
		MaxHeapBytes:      256 << 20,
		ExpireAfterAccess: 10 * time.Second,
		MaxLeafDepth:      4,
	}
}
