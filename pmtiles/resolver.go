package pmtiles

import (
	"context"

	"go.uber.org/zap"
)

// TileResolver ties the range-reader stack, header, and directory cache
// together into the single operation client code actually wants: "give me
// the bytes for this tile" (spec.md §4.7). It owns no caching itself beyond
// the DirectoryCache it's handed; tile byte ranges are read straight
// through the reader stack so the memory/disk/block-aligned decorators
// already installed on it apply uniformly to directory and tile reads.
type TileResolver struct {
	reader RangeReader
	dirs   *DirectoryCache
	header Header

	logger  *zap.Logger
	metrics *Metrics
	archive string
}

// ResolverOptions configures NewResolver.
type ResolverOptions struct {
	Logger  *zap.Logger
	Metrics *Metrics
	// Archive is a human-readable label used in metrics and log fields.
	Archive string
}

// NewResolver reads and validates the header at the start of reader, then
// constructs a TileResolver ready to serve GetTile calls. dirs must be
// backed by the same reader (or an equivalent decorated stack) so its cache
// keys remain meaningful across calls.
func NewResolver(ctx context.Context, reader RangeReader, dirs *DirectoryCache, opts ResolverOptions) (*TileResolver, error) {
	buf := make([]byte, HeaderSize)
	n, err := reader.ReadRange(ctx, 0, buf)
	if err != nil {
		return nil, wrapError(CodeInvalidHeader, "reading archive header", err)
	}
	if n < HeaderSize {
		return nil, newError(CodeInvalidHeader, "archive is smaller than the fixed header size")
	}
	header, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	archive := opts.Archive
	if archive == "" {
		archive = reader.SourceID()
	}

	return &TileResolver{
		reader:  reader,
		dirs:    dirs,
		header:  header,
		logger:  logger,
		metrics: opts.Metrics,
		archive: archive,
	}, nil
}

// Header returns the archive's parsed header.
func (r *TileResolver) Header() Header {
	return r.header
}

// ErrTileNotFound is returned by GetTile when the archive has no data for
// the requested coordinate; this is a normal miss, not an archive defect.
var ErrTileNotFound = newError(CodeOutOfRange, "tile not found in archive")

// GetTile resolves (z, x, y) to its tile bytes exactly as stored (still
// under the archive's TileCompression), walking the root directory and any
// leaf directories it points through, up to the DirectoryCache's configured
// MaxLeafDepth (spec.md §4.7, §5). Returns ErrTileNotFound (code
// CodeOutOfRange) for a genuine gap in the tile set. Because Error.Is
// compares codes only, errors.Is(err, ErrTileNotFound) also holds for any
// other error whose chain carries CodeOutOfRange.
func (r *TileResolver) GetTile(ctx context.Context, z uint8, x, y uint32) ([]byte, error) {
	tracker := r.metrics.startTileRequest(r.archive)
	status := "ok"
	defer func() { tracker.finish(status) }()

	if z < r.header.MinZoom || z > r.header.MaxZoom {
		status = "miss"
		return nil, ErrTileNotFound
	}

	tileID, err := TileID(z, x, y)
	if err != nil {
		status = "error"
		return nil, err
	}

	dirOffset, dirLength := r.header.RootOffset, r.header.RootLength
	for depth := 0; depth <= r.dirs.MaxLeafDepth(); depth++ {
		dir, err := r.dirs.Get(ctx, dirOffset, dirLength, r.header.InternalCompression)
		if err != nil {
			status = "error"
			return nil, err
		}

		i := dir.FindEntryIndex(tileID)
		if i < 0 {
			status = "miss"
			return nil, ErrTileNotFound
		}
		entry := dir.At(i)

		if entry.IsTile() {
			if !entry.Contains(tileID) {
				status = "miss"
				return nil, ErrTileNotFound
			}
			data, err := r.readTileData(ctx, entry)
			if err != nil {
				status = "error"
				return nil, err
			}
			return data, nil
		}

		nextOffset := r.header.LeafDirectoryOffset + entry.Offset
		nextLength := uint64(entry.Length)
		if nextOffset < r.header.LeafDirectoryOffset || nextOffset+nextLength > r.header.LeafDirectoryOffset+r.header.LeafDirectoryLength {
			status = "error"
			return nil, newError(CodeMalformedArchive, "leaf directory pointer falls outside the leaf directories section")
		}
		dirOffset, dirLength = nextOffset, nextLength
	}

	status = "error"
	return nil, newError(CodeMalformedArchive, "exceeded maximum leaf directory depth")
}

// readTileData returns the tile payload exactly as stored in the archive.
// TileCompression (gzip/brotli/zstd) is left for the caller to undo as part
// of its MVT/image decoding; this layer only ever decompresses internal
// (directory/metadata) bytes, never tile bytes.
func (r *TileResolver) readTileData(ctx context.Context, entry Entry) ([]byte, error) {
	raw := make([]byte, entry.Length)
	n, err := r.reader.ReadRange(ctx, r.header.TileDataOffset+entry.Offset, raw)
	if err != nil {
		return nil, wrapError(CodeIO, "reading tile data", err)
	}
	return raw[:n], nil
}

// TileEntries returns the tile-covering entries of the directory at
// [offset, length) - a thin pass-through to DirectoryCache.Get +
// Directory.TileEntries, exposed for callers enumerating an archive rather
// than resolving a single coordinate.
func (r *TileResolver) TileEntries(ctx context.Context, offset, length uint64) ([]Entry, error) {
	dir, err := r.dirs.Get(ctx, offset, length, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	return dir.TileEntries(), nil
}

// Metadata reads and decompresses the archive's JSON metadata blob.
func (r *TileResolver) Metadata(ctx context.Context) ([]byte, error) {
	raw := make([]byte, r.header.MetadataLength)
	n, err := r.reader.ReadRange(ctx, r.header.MetadataOffset, raw)
	if err != nil {
		return nil, wrapError(CodeIO, "reading archive metadata", err)
	}
	return decompress(raw[:n], r.header.InternalCompression)
}

// Close releases the resolver's directory cache. The underlying reader
// stack is not closed; whoever built it via CacheManager owns that.
func (r *TileResolver) Close() {
	r.dirs.Close()
}
