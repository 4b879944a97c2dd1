package pmtiles

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DiskCache decorates a RangeReader with a persistent on-disk cache of
// recently read ranges, content-addressed by a hash of the source and
// range. A bbolt sidecar index tracks each entry's byte size so the total
// cache footprint can be bounded and evicted without a directory walk.
type DiskCache struct {
	inner RangeReader
	dir   string
	db    *bbolt.DB
	group singleflight.Group

	mu          sync.Mutex
	totalBytes  int64
	maxBytes    int64
	deleteClose bool

	logger  *zap.Logger
	metrics *Metrics
	name    string
}

var indexBucket = []byte("entries")

// NewDiskCache wraps inner with a directory-backed cache rooted at
// opts.CacheDirectory, bounded by opts.MaxCacheSizeBytes. If DeleteOnClose
// is set, Close removes the entire cache directory.
func NewDiskCache(inner RangeReader, opts DiskCacheOptions) (*DiskCache, error) {
	if opts.CacheDirectory == "" {
		return nil, newError(CodeInvalidArgument, "disk cache directory must be set")
	}
	if err := os.MkdirAll(opts.CacheDirectory, 0o755); err != nil {
		return nil, wrapIOError("creating disk cache directory", err, false)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bbolt.Open(filepath.Join(opts.CacheDirectory, "index.bbolt"), 0o644, nil)
	if err != nil {
		return nil, wrapIOError("opening disk cache index", err, false)
	}

	c := &DiskCache{
		inner:       inner,
		dir:         opts.CacheDirectory,
		db:          db,
		maxBytes:    opts.MaxCacheSizeBytes,
		deleteClose: opts.DeleteOnClose,
		logger:      logger,
		name:        "disk:" + inner.SourceID(),
	}

	if err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(indexBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			c.totalBytes += int64(binary.LittleEndian.Uint64(v))
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, wrapIOError("initializing disk cache index", err, false)
	}

	return c, nil
}

// WithMetrics attaches a Metrics sink used to record hit/miss counters and
// cache size gauges.
func (c *DiskCache) WithMetrics(m *Metrics) *DiskCache {
	c.metrics = m
	return c
}

func (c *DiskCache) entryPath(key string) string {
	h := xxhash.Sum64String(c.inner.SourceID() + "|" + key)
	return filepath.Join(c.dir, fmt.Sprintf("%016x.bin", h))
}

func (c *DiskCache) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	key := rangeCacheKey(offset, len(dst))
	path := c.entryPath(key)

	if data, err := os.ReadFile(path); err == nil {
		now := time.Now()
		os.Chtimes(path, now, now)
		c.metrics.recordCacheRequest(c.name, "hit")
		return copy(dst, data), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		buf := make([]byte, len(dst))
		n, err := c.inner.ReadRange(ctx, offset, buf)
		if err != nil {
			return nil, err
		}
		data := buf[:n]
		if err := c.writeEntry(key, path, data); err != nil {
			c.logger.Warn("disk cache write failed", zap.String("path", path), zap.Error(err))
		}
		return data, nil
	})
	c.metrics.recordCacheRequest(c.name, "miss")
	if err != nil {
		return 0, err
	}
	return copy(dst, v.([]byte)), nil
}

// writeEntry persists data to a temp file in the cache directory and
// renames it into place, so a reader never observes a partially-written
// cache entry, then records the entry's size in the bbolt index.
func (c *DiskCache) writeEntry(key, path string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	size := make([]byte, 8)
	binary.LittleEndian.PutUint64(size, uint64(len(data)))
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Put([]byte(key), size)
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.totalBytes += int64(len(data))
	c.mu.Unlock()
	c.metrics.setCacheStats(c.name, c.totalBytes, 0, c.maxBytes)

	if c.maxBytes > 0 && c.totalBytes > c.maxBytes {
		c.evictOldest()
	}
	return nil
}

// diskCacheEntry pairs an index key with its size and the mtime of its
// backing file, which ReadRange refreshes via Chtimes on every hit so it
// doubles as a last-accessed timestamp.
type diskCacheEntry struct {
	key        string
	size       int64
	accessedAt time.Time
}

// evictOldest removes least-recently-accessed entries first until the cache
// is back under budget, using each entry file's mtime (bumped on every hit
// in ReadRange) as the access-recency signal, per the LRU eviction
// requirement. The bbolt index is only used to enumerate keys/sizes
// cheaply; actual recency comes from the filesystem, not iteration order.
func (c *DiskCache) evictOldest() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []diskCacheEntry
	c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		return b.ForEach(func(k, v []byte) error {
			size := int64(binary.LittleEndian.Uint64(v))
			accessedAt := time.Unix(0, 0)
			if info, err := os.Stat(c.entryPath(string(k))); err == nil {
				accessedAt = info.ModTime()
			}
			entries = append(entries, diskCacheEntry{key: string(k), size: size, accessedAt: accessedAt})
			return nil
		})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].accessedAt.Before(entries[j].accessedAt) })

	c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		for _, e := range entries {
			if c.totalBytes <= c.maxBytes {
				break
			}
			os.Remove(c.entryPath(e.key))
			if err := b.Delete([]byte(e.key)); err != nil {
				return err
			}
			c.totalBytes -= e.size
		}
		return nil
	})
}

func (c *DiskCache) Size(ctx context.Context) (uint64, error) {
	return c.inner.Size(ctx)
}

func (c *DiskCache) SourceID() string {
	return c.inner.SourceID()
}

// Close closes the bbolt index, and if the cache was constructed with
// DeleteOnClose, removes the cache directory.
func (c *DiskCache) Close() error {
	if err := c.db.Close(); err != nil {
		return wrapIOError("closing disk cache index", err, false)
	}
	if c.deleteClose {
		return os.RemoveAll(c.dir)
	}
	return nil
}
