package pmtiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheManagerGetBuildsLayeredReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.pmtiles")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	m := NewCacheManager(CacheManagerOptions{})
	memOpts := DefaultMemoryCacheOptions()
	r, err := m.Get(context.Background(), path, CacheManagerOptions{Memory: &memOpts})
	require.NoError(t, err)

	dst := make([]byte, 5)
	n, err := r.ReadRange(context.Background(), 6, dst)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(dst))

	require.NoError(t, m.Close())
}

func TestCacheManagerGetReturnsSameReaderForSameURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.pmtiles")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	m := NewCacheManager(CacheManagerOptions{})
	r1, err := m.Get(context.Background(), path, CacheManagerOptions{})
	require.NoError(t, err)
	r2, err := m.Get(context.Background(), path, CacheManagerOptions{})
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestDefaultCacheManagerIsSingleton(t *testing.T) {
	assert.Same(t, DefaultCacheManager(), DefaultCacheManager())
}
