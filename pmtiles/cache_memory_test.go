package pmtiles

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	data  []byte
	calls atomic.Int64
}

func (r *countingReader) ReadRange(_ context.Context, offset uint64, dst []byte) (int, error) {
	r.calls.Add(1)
	if err := validateReadArgs(uint64(len(r.data)), offset, len(dst)); err != nil {
		return 0, err
	}
	n := clampLength(uint64(len(r.data)), offset, len(dst))
	return copy(dst, r.data[offset:offset+uint64(n)]), nil
}

func (r *countingReader) Size(context.Context) (uint64, error) {
	return uint64(len(r.data)), nil
}

func (r *countingReader) SourceID() string { return "counting://test" }

func TestMemoryCacheHitAvoidsInnerRead(t *testing.T) {
	inner := &countingReader{data: []byte("hello world")}
	c, err := NewMemoryCache(inner, DefaultMemoryCacheOptions())
	require.NoError(t, err)
	defer c.Close()

	dst := make([]byte, 5)
	_, err = c.ReadRange(context.Background(), 0, dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dst))
	assert.EqualValues(t, 1, inner.calls.Load())

	c.cache.Wait()
	_, err = c.ReadRange(context.Background(), 0, dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dst))
	assert.EqualValues(t, 1, inner.calls.Load())
}

// "Single-flight coalescing" (spec.md §8): N concurrent reads for the same
// range trigger exactly one inner read.
func TestMemoryCacheCoalescesConcurrentReads(t *testing.T) {
	inner := &countingReader{data: []byte("hello world")}
	c, err := NewMemoryCache(inner, DefaultMemoryCacheOptions())
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]byte, 5)
			_, err := c.ReadRange(context.Background(), 0, dst)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestMemoryCacheRejectsZeroLength(t *testing.T) {
	inner := &countingReader{data: []byte("hello")}
	c, err := NewMemoryCache(inner, DefaultMemoryCacheOptions())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReadRange(context.Background(), 0, nil)
	require.Error(t, err)
	assert.True(t, isCode(err, CodeInvalidArgument))
}

func TestMemoryCacheDelegatesSizeAndSourceID(t *testing.T) {
	inner := &countingReader{data: []byte("hello")}
	c, err := NewMemoryCache(inner, DefaultMemoryCacheOptions())
	require.NoError(t, err)
	defer c.Close()

	size, err := c.Size(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	assert.Equal(t, "counting://test", c.SourceID())
}
