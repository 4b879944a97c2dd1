package pmtiles

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive assembles a minimal in-memory PMTiles v3 byte stream with a
// root directory, optionally one leaf directory, and raw (uncompressed)
// tile payloads, mirroring spec.md §8's end-to-end scenarios.
type archiveBuilder struct {
	buf bytes.Buffer
}

func (b *archiveBuilder) appendPadded(data []byte, to int) {
	b.buf.Write(data)
	for b.buf.Len() < to {
		b.buf.WriteByte(0)
	}
}

func TestResolverDirectTileHit(t *testing.T) {
	tile := []byte("tile-data-0-0-0")
	tileID, err := TileID(0, 0, 0)
	require.NoError(t, err)

	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)

	rootEntries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(tile)), RunLength: 1}}
	rootDir := SerializeDirectory(rootEntries)
	rootOffset := uint64(buf.buf.Len())
	buf.buf.Write(rootDir)

	tileDataOffset := uint64(buf.buf.Len())
	buf.buf.Write(tile)

	header := Header{
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		TileDataOffset:      tileDataOffset,
		InternalCompression: CompressionNone,
		TileCompression:     CompressionNone,
		TileType:            TileTypeMVT,
		MinZoom:             0,
		MaxZoom:             5,
	}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	got, err := resolver.GetTile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tile, got)
}

func TestResolverTileNotFound(t *testing.T) {
	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)

	rootDir := SerializeDirectory(nil)
	rootOffset := uint64(buf.buf.Len())
	buf.buf.Write(rootDir)

	header := Header{
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		InternalCompression: CompressionNone,
		TileCompression:     CompressionNone,
		MinZoom:             0,
		MaxZoom:             5,
	}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	_, err = resolver.GetTile(context.Background(), 0, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestResolverZoomOutOfRange(t *testing.T) {
	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)
	header := Header{MinZoom: 2, MaxZoom: 5, InternalCompression: CompressionNone, TileCompression: CompressionNone}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	_, err = resolver.GetTile(context.Background(), 0, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestResolverLeafDirectoryTraversal(t *testing.T) {
	tile := []byte("leaf-tile")
	tileID, err := TileID(3, 1, 1)
	require.NoError(t, err)

	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)

	leafEntries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(tile)), RunLength: 1}}
	leafDir := SerializeDirectory(leafEntries)

	rootEntries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(leafDir)), RunLength: 0}}
	rootDir := SerializeDirectory(rootEntries)

	rootOffset := uint64(buf.buf.Len())
	buf.buf.Write(rootDir)

	leafDirOffset := uint64(buf.buf.Len())
	buf.buf.Write(leafDir)

	tileDataOffset := uint64(buf.buf.Len())
	buf.buf.Write(tile)

	header := Header{
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		LeafDirectoryOffset: leafDirOffset,
		LeafDirectoryLength: uint64(len(leafDir)),
		TileDataOffset:      tileDataOffset,
		InternalCompression: CompressionNone,
		TileCompression:     CompressionNone,
		MinZoom:             0,
		MaxZoom:             10,
	}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	got, err := resolver.GetTile(context.Background(), 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, tile, got)
}

func TestResolverLeafPointerOutOfBoundsIsMalformed(t *testing.T) {
	tile := []byte("leaf-tile")
	tileID, err := TileID(3, 1, 1)
	require.NoError(t, err)

	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)

	leafEntries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(tile)), RunLength: 1}}
	leafDir := SerializeDirectory(leafEntries)

	// The root entry's offset points well past the leaf directories
	// section, which header.LeafDirectoryLength below declares as empty.
	rootEntries := []Entry{{TileID: tileID, Offset: 1 << 20, Length: uint32(len(leafDir)), RunLength: 0}}
	rootDir := SerializeDirectory(rootEntries)

	rootOffset := uint64(buf.buf.Len())
	buf.buf.Write(rootDir)

	leafDirOffset := uint64(buf.buf.Len())
	buf.buf.Write(leafDir)

	tileDataOffset := uint64(buf.buf.Len())
	buf.buf.Write(tile)

	header := Header{
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		LeafDirectoryOffset: leafDirOffset,
		LeafDirectoryLength: 0,
		TileDataOffset:      tileDataOffset,
		InternalCompression: CompressionNone,
		TileCompression:     CompressionNone,
		MinZoom:             0,
		MaxZoom:             10,
	}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	_, err = resolver.GetTile(context.Background(), 3, 1, 1)
	require.Error(t, err)
	var pmErr *Error
	ok := errors.As(err, &pmErr)
	require.True(t, ok)
	assert.Equal(t, CodeMalformedArchive, pmErr.Code)
}

func TestResolverReturnsCompressedTileBytesUnchanged(t *testing.T) {
	plain := []byte("tile-data-0-0-0-compressed-payload")
	compressed, err := compress(plain, CompressionGzip)
	require.NoError(t, err)

	tileID, err := TileID(0, 0, 0)
	require.NoError(t, err)

	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)

	rootEntries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(compressed)), RunLength: 1}}
	rootDir := SerializeDirectory(rootEntries)
	rootOffset := uint64(buf.buf.Len())
	buf.buf.Write(rootDir)

	tileDataOffset := uint64(buf.buf.Len())
	buf.buf.Write(compressed)

	header := Header{
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		TileDataOffset:      tileDataOffset,
		InternalCompression: CompressionNone,
		TileCompression:     CompressionGzip,
		TileType:            TileTypeMVT,
		MinZoom:             0,
		MaxZoom:             5,
	}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)

	got, err := resolver.GetTile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, compressed, got)
	assert.NotEqual(t, plain, got)
}

func TestResolverHeaderAccessor(t *testing.T) {
	var buf archiveBuilder
	buf.appendPadded(nil, HeaderSize)
	header := Header{MinZoom: 1, MaxZoom: 8, InternalCompression: CompressionNone, TileCompression: CompressionNone}
	headerBytes := SerializeHeader(header)
	full := buf.buf.Bytes()
	copy(full[0:HeaderSize], headerBytes)

	reader := &countingReader{data: full}
	dirs, err := NewDirectoryCache(reader, DefaultDirectoryCacheOptions())
	require.NoError(t, err)
	defer dirs.Close()

	resolver, err := NewResolver(context.Background(), reader, dirs, ResolverOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), resolver.Header().MinZoom)
	assert.Equal(t, uint8(8), resolver.Header().MaxZoom)
}
