package pmtiles

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// MemoryCache decorates a RangeReader with a cost-bounded, in-process cache
// of recently read ranges. Concurrent reads for the same range are
// coalesced through a singleflight.Group so at most one request reaches the
// wrapped reader at a time (spec.md §5).
type MemoryCache struct {
	inner RangeReader
	cache *ristretto.Cache
	group singleflight.Group
	ttl   time.Duration
	name  string

	logger  *zap.Logger
	metrics *Metrics
}

// NewMemoryCache wraps inner with a ristretto-backed cache bounded by
// opts.MaxCostBytes, expiring entries idle for opts.ExpireAfterAccess.
func NewMemoryCache(inner RangeReader, opts MemoryCacheOptions) (*MemoryCache, error) {
	if opts.MaxCostBytes <= 0 {
		opts = DefaultMemoryCacheOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.MaxCostBytes / 32 * 10,
		MaxCost:     opts.MaxCostBytes,
		BufferItems: 64,
		Metrics:     false,
	})
	if err != nil {
		return nil, wrapError(CodeIO, "constructing memory cache", err)
	}
	return &MemoryCache{
		inner:  inner,
		cache:  cache,
		ttl:    opts.ExpireAfterAccess,
		name:   "memory:" + inner.SourceID(),
		logger: logger,
	}, nil
}

// WithMetrics attaches a Metrics sink used to record hit/miss counters and
// cache size gauges.
func (c *MemoryCache) WithMetrics(m *Metrics) *MemoryCache {
	c.metrics = m
	return c
}

type memoryCacheEntry struct {
	data []byte
}

func rangeCacheKey(offset uint64, length int) string {
	return fmt.Sprintf("%d:%d", offset, length)
}

func (c *MemoryCache) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	key := rangeCacheKey(offset, len(dst))

	if v, ok := c.cache.Get(key); ok {
		entry := v.(*memoryCacheEntry)
		if c.ttl > 0 {
			c.cache.SetWithTTL(key, entry, ByteRange{Offset: offset, Length: uint32(len(entry.data))}.weight(), c.ttl)
		}
		c.metrics.recordCacheRequest(c.name, "hit")
		return copy(dst, entry.data), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		buf := make([]byte, len(dst))
		n, err := c.inner.ReadRange(ctx, offset, buf)
		if err != nil {
			return nil, err
		}
		entry := &memoryCacheEntry{data: buf[:n]}
		weight := ByteRange{Offset: offset, Length: uint32(n)}.weight()
		if c.ttl > 0 {
			c.cache.SetWithTTL(key, entry, weight, c.ttl)
		} else {
			c.cache.Set(key, entry, weight)
		}
		c.cache.Wait()
		return entry, nil
	})
	c.metrics.recordCacheRequest(c.name, "miss")
	if err != nil {
		return 0, err
	}
	entry := v.(*memoryCacheEntry)
	return copy(dst, entry.data), nil
}

func (c *MemoryCache) Size(ctx context.Context) (uint64, error) {
	return c.inner.Size(ctx)
}

func (c *MemoryCache) SourceID() string {
	return c.inner.SourceID()
}

// Close releases the cache's background goroutines. The wrapped reader is
// not closed; callers that opened it are responsible for closing it.
func (c *MemoryCache) Close() {
	c.cache.Close()
}
