package pmtiles

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DirectoryCache decodes and caches directories fetched from a RangeReader,
// keyed by (source, etag-equivalent generation, byte range) so a source
// swap invalidates every directory cached under its old identity rather
// than serving stale entries (spec.md §4.6, the SUPPLEMENTED etag behavior
// in place of a literal HTTP ETag since RangeReader carries no etag).
//
// Concurrent requests for the same range are coalesced through a
// singleflight.Group, mirroring the Tile Repository pattern this type is
// grounded on.
type DirectoryCache struct {
	reader RangeReader
	cache  *ristretto.Cache
	group  singleflight.Group
	ttl    time.Duration

	maxLeafDepth int
	generation   uint64

	logger  *zap.Logger
	metrics *Metrics
	name    string
}

// NewDirectoryCache constructs a DirectoryCache reading compressed
// directory bytes through reader; the compression to undo is passed to
// each Get call.
func NewDirectoryCache(reader RangeReader, opts DirectoryCacheOptions) (*DirectoryCache, error) {
	if opts.MaxHeapBytes <= 0 {
		opts = DefaultDirectoryCacheOptions()
	}
	budget := opts.MaxHeapBytes * int64(opts.MaxHeapPercent) / 100
	if budget <= 0 {
		budget = 12 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: budget / 64 * 10,
		MaxCost:     budget,
		BufferItems: 64,
	})
	if err != nil {
		return nil, wrapError(CodeIO, "constructing directory cache", err)
	}
	maxLeafDepth := opts.MaxLeafDepth
	if maxLeafDepth <= 0 {
		maxLeafDepth = DefaultDirectoryCacheOptions().MaxLeafDepth
	}
	return &DirectoryCache{
		reader:       reader,
		cache:        cache,
		ttl:          opts.ExpireAfterAccess,
		maxLeafDepth: maxLeafDepth,
		logger:       logger,
		metrics:      opts.Metrics,
		name:         "directory:" + reader.SourceID(),
	}, nil
}

// Invalidate discards every directory cached against the current
// generation and bumps the generation counter, so subsequent Get calls
// re-fetch from the (presumably changed) underlying source. Callers invoke
// this when they detect the source has changed out from under them, e.g. a
// conditional reload keyed off a last-modified timestamp or etag obtained
// out of band.
func (c *DirectoryCache) Invalidate(archive string) {
	c.generation++
	c.cache.Clear()
	c.metrics.recordInvalidation(archive)
}

func (c *DirectoryCache) key(offset uint64, length uint64) string {
	return fmt.Sprintf("%d:%d:%d", c.generation, offset, length)
}

// Get returns the decoded, decompressed Directory stored at [offset,
// offset+length) in c's underlying source, per spec.md's root_directory and
// directory(entry) operations. compression is the archive's
// InternalCompression.
func (c *DirectoryCache) Get(ctx context.Context, offset, length uint64, compression Compression) (*Directory, error) {
	key := c.key(offset, length)
	if v, ok := c.cache.Get(key); ok {
		if c.ttl > 0 {
			c.cache.SetWithTTL(key, v, v.(*Directory).weight(), c.ttl)
		}
		c.metrics.recordCacheRequest(c.name, "hit")
		return v.(*Directory), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		raw := make([]byte, length)
		n, err := c.reader.ReadRange(ctx, offset, raw)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading directory range", err)
		}
		decompressed, err := decompress(raw[:n], compression)
		if err != nil {
			return nil, err
		}
		dir, err := DeserializeDirectory(decompressed)
		if err != nil {
			return nil, err
		}
		weight := dir.weight()
		if c.ttl > 0 {
			c.cache.SetWithTTL(key, dir, weight, c.ttl)
		} else {
			c.cache.Set(key, dir, weight)
		}
		return dir, nil
	})
	c.metrics.recordCacheRequest(c.name, "miss")
	if err != nil {
		return nil, err
	}
	return v.(*Directory), nil
}

// RootDirectory is Get specialized to an archive's root directory range.
func (c *DirectoryCache) RootDirectory(ctx context.Context, h Header) (*Directory, error) {
	return c.Get(ctx, h.RootOffset, h.RootLength, h.InternalCompression)
}

// MaxLeafDepth returns the maximum number of leaf-directory hops
// TileResolver.GetTile will traverse before giving up, per spec.md §4.7.
func (c *DirectoryCache) MaxLeafDepth() int {
	return c.maxLeafDepth
}

// Close releases the cache's background goroutines.
func (c *DirectoryCache) Close() {
	c.cache.Close()
}
