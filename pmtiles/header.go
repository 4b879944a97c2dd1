package pmtiles

import "encoding/binary"

// HeaderSize is the fixed size in bytes of a PMTiles v3 header (spec.md §6).
const HeaderSize = 127

const specVersion = 3

var magic = [7]byte{'P', 'M', 'T', 'i', 'l', 'e', 's'}

// Compression identifies the codec applied to a byte range, either the
// "internal" bytes (directories + JSON metadata) or tile payloads.
type Compression uint8

// Compression codes, per spec.md §3.
const (
	CompressionUnknown Compression = 0
	CompressionNone     Compression = 1
	CompressionGzip     Compression = 2
	CompressionBrotli   Compression = 3
	CompressionZstd     Compression = 4
)

func (c Compression) valid() bool {
	return c >= CompressionNone && c <= CompressionZstd
}

// TileType identifies the format of the tile payloads stored in an archive.
type TileType uint8

// Tile type codes, per spec.md §3.
const (
	TileTypeUnknown TileType = 0
	TileTypeMVT     TileType = 1
	TileTypePNG     TileType = 2
	TileTypeJPEG    TileType = 3
	TileTypeWebP    TileType = 4
	TileTypeAVIF    TileType = 5
)

// ContentType returns the MIME type for t ("application/x-protobuf" for
// MVT), and false if t is an unknown tile type.
func (t TileType) ContentType() (string, bool) {
	switch t {
	case TileTypeMVT:
		return "application/x-protobuf", true
	case TileTypePNG:
		return "image/png", true
	case TileTypeJPEG:
		return "image/jpeg", true
	case TileTypeWebP:
		return "image/webp", true
	case TileTypeAVIF:
		return "image/avif", true
	default:
		return "", false
	}
}

// Header is the fully-parsed, immutable 127-byte PMTiles v3 header (spec.md
// §3 and §6). It is created once on archive open and never mutated.
type Header struct {
	SpecVersion uint8

	RootOffset uint64
	RootLength uint64

	MetadataOffset uint64
	MetadataLength uint64

	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64

	TileDataOffset uint64
	TileDataLength uint64

	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64

	Clustered bool

	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType

	MinZoom uint8
	MaxZoom uint8

	MinLonE7 int32
	MinLatE7 int32
	MaxLonE7 int32
	MaxLatE7 int32

	CenterZoom  uint8
	CenterLonE7 int32
	CenterLatE7 int32
}

// PrimingRangeLength is the size of the combined header+root-directory
// ranged read a latency-optimized client should issue on open (spec.md §6):
// both are guaranteed to fit within this many bytes.
const PrimingRangeLength = 16384

// ParseHeader decodes the fixed 127-byte PMTiles v3 header from d, which
// must have length >= HeaderSize. It fails with CodeInvalidHeader on magic
// mismatch, unsupported spec version, or a compression/tile-type code
// outside the enumerated set.
func ParseHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderSize {
		return h, newError(CodeInvalidHeader, "header buffer shorter than 127 bytes")
	}
	if string(d[0:7]) != string(magic[:]) {
		return h, newError(CodeInvalidHeader, "magic number \"PMTiles\" not found")
	}
	if d[7] != specVersion {
		return h, newError(CodeInvalidHeader, "unsupported spec version, only version 3 is supported")
	}

	h.SpecVersion = d[7]
	h.RootOffset = binary.LittleEndian.Uint64(d[8:16])
	h.RootLength = binary.LittleEndian.Uint64(d[16:24])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24:32])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32:40])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40:48])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48:56])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56:64])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64:72])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72:80])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80:88])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88:96])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102:106]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106:110]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110:114]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114:118]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119:123]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123:127]))

	if !h.InternalCompression.valid() {
		return Header{}, newError(CodeInvalidHeader, "unrecognized internal compression code")
	}
	if !h.TileCompression.valid() {
		return Header{}, newError(CodeInvalidHeader, "unrecognized tile compression code")
	}
	if h.TileType > TileTypeAVIF {
		return Header{}, newError(CodeInvalidHeader, "unrecognized tile type code")
	}

	return h, nil
}

// SerializeHeader encodes h into its 127-byte wire form. It round-trips with
// ParseHeader and exists primarily so tests can build synthetic archives
// without a real PMTiles writer (full archive writing is out of scope, per
// spec.md §4.5).
func SerializeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:7], magic[:])
	b[7] = specVersion
	binary.LittleEndian.PutUint64(b[8:16], h.RootOffset)
	binary.LittleEndian.PutUint64(b[16:24], h.RootLength)
	binary.LittleEndian.PutUint64(b[24:32], h.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:40], h.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:48], h.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:56], h.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:64], h.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:72], h.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:80], h.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:88], h.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:96], h.TileContentsCount)
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	binary.LittleEndian.PutUint32(b[102:106], uint32(h.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:110], uint32(h.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:114], uint32(h.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:118], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	binary.LittleEndian.PutUint32(b[119:123], uint32(h.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:127], uint32(h.CenterLatE7))
	return b
}
