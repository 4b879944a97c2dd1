package pmtiles

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CacheManager composes the C1/C2 layers for a single archive URI into one
// ready-to-use RangeReader: backend -> block-aligned coalescing -> disk
// cache -> memory cache, each layer optional. It also tracks every reader
// it opens so Close can release them all at once.
type CacheManager struct {
	mu      sync.Mutex
	readers map[string]RangeReader
	closers []func() error

	layers   CacheManagerOptions
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics
}

// CacheManagerOptions configures the layers a CacheManager builds. A zero
// value builds a backend-only reader with no caching layers.
type CacheManagerOptions struct {
	Registry     *Registry
	BlockAligned *BlockAlignedOptions
	Disk         *DiskCacheOptions
	Memory       *MemoryCacheOptions
	Logger       *zap.Logger
	Metrics      *Metrics
}

// NewCacheManager constructs an empty CacheManager. Use Get to lazily open
// and cache a reader per source URI.
func NewCacheManager(opts CacheManagerOptions) *CacheManager {
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &CacheManager{
		readers:  make(map[string]RangeReader),
		layers:   opts,
		registry: registry,
		logger:   logger,
		metrics:  opts.Metrics,
	}
	return m
}

var defaultCacheManagerOnce sync.Once
var defaultCacheManager *CacheManager

// DefaultCacheManager returns a process-wide CacheManager with default
// block alignment and memory caching, backed by the default registry.
func DefaultCacheManager() *CacheManager {
	defaultCacheManagerOnce.Do(func() {
		blockAligned := DefaultBlockAlignedOptions()
		memory := DefaultMemoryCacheOptions()
		defaultCacheManager = NewCacheManager(CacheManagerOptions{
			BlockAligned: &blockAligned,
			Memory:       &memory,
		})
	})
	return defaultCacheManager
}

// Get returns the cached reader stack for uri, building it on first use via
// opts. If opts sets none of BlockAligned, Disk or Memory, the layers the
// manager was constructed with are used instead (block-aligned +
// memory-cached for DefaultCacheManager).
func (m *CacheManager) Get(ctx context.Context, uri string, opts CacheManagerOptions) (RangeReader, error) {
	m.mu.Lock()
	if r, ok := m.readers[uri]; ok {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	if opts.BlockAligned == nil && opts.Disk == nil && opts.Memory == nil {
		opts = m.layers
	}

	backend, err := m.registry.Open(ctx, uri)
	if err != nil {
		return nil, err
	}

	var r RangeReader = backend
	if opts.BlockAligned != nil {
		aligned, err := NewBlockAlignedReader(r, *opts.BlockAligned)
		if err != nil {
			return nil, err
		}
		r = aligned
	}
	if opts.Disk != nil {
		disk, err := NewDiskCache(r, *opts.Disk)
		if err != nil {
			return nil, err
		}
		disk.WithMetrics(m.metrics)
		r = disk
		m.registerCloser(disk.Close)
	}
	if opts.Memory != nil {
		mem, err := NewMemoryCache(r, *opts.Memory)
		if err != nil {
			return nil, err
		}
		mem.WithMetrics(m.metrics)
		r = mem
		m.registerCloser(func() error { mem.Close(); return nil })
	}

	m.mu.Lock()
	m.readers[uri] = r
	m.mu.Unlock()
	return r, nil
}

func (m *CacheManager) registerCloser(f func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, f)
}

// Close releases every cache layer opened through this manager, collecting
// (not short-circuiting on) the first error encountered.
func (m *CacheManager) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var firstErr error
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("closing cache manager: %w", firstErr)
	}
	return nil
}
