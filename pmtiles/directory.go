package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"sort"
)

// Entry is a single logical row of a PMTiles directory (spec.md §3). Decoded
// directories store these as parallel arrays rather than a slice of Entry,
// but Entry remains the unit callers observe through the iteration and
// lookup APIs.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// IsLeaf reports whether this entry points at a leaf directory rather than a
// tile (spec.md §3: "isLeaf ⇔ runLength == 0").
func (e Entry) IsLeaf() bool { return e.RunLength == 0 }

// IsTile reports whether this entry covers one or more tiles directly.
func (e Entry) IsTile() bool { return e.RunLength >= 1 }

// Contains reports whether id falls within the span of tile IDs this entry
// covers: exactly TileID for a leaf pointer, or [TileID, TileID+RunLength)
// for a tile entry.
func (e Entry) Contains(id uint64) bool {
	if e.IsLeaf() {
		return id == e.TileID
	}
	return id >= e.TileID && id < e.TileID+uint64(e.RunLength)
}

// Directory is an ordered, decoded PMTiles directory: parallel arrays
// sorted strictly ascending by tileID, chosen (per spec.md §3 and Design
// Notes §9) so the in-memory size is known exactly and so binary search
// followed by single-index lookups into the other three arrays stays
// cache-friendly.
type Directory struct {
	tileID    []uint64
	offset    []uint64
	length    []uint32
	runLength []uint32
}

// Len returns the number of entries in the directory.
func (d *Directory) Len() int { return len(d.tileID) }

// At returns the entry at index i. Panics if i is out of range, matching
// slice semantics since callers always derive i from Len or FindEntryIndex.
func (d *Directory) At(i int) Entry {
	return Entry{
		TileID:    d.tileID[i],
		Offset:    d.offset[i],
		Length:    d.length[i],
		RunLength: d.runLength[i],
	}
}

// weight approximates the directory's in-memory footprint, per spec.md §3:
// "24 + 16 + 20 * size".
func (d *Directory) weight() int64 {
	return 24 + 16 + 20*int64(d.Len())
}

// FindEntryIndex returns the index of the greatest entry with TileID <= id,
// or -1 if every entry's TileID exceeds id. This is the binary-search
// contract the Tile Resolver (C7) relies on (spec.md §4.7).
func (d *Directory) FindEntryIndex(id uint64) int {
	n := len(d.tileID)
	i := sort.Search(n, func(i int) bool { return d.tileID[i] > id })
	return i - 1
}

// FindTile resolves id against the directory using FindEntryIndex plus the
// run-length/leaf containment check, returning ok=false on a gap (a genuine
// tile miss, not an error per spec.md §7).
func (d *Directory) FindTile(id uint64) (Entry, bool) {
	i := d.FindEntryIndex(id)
	if i < 0 {
		return Entry{}, false
	}
	e := d.At(i)
	if !e.Contains(id) {
		return Entry{}, false
	}
	return e, true
}

// Entries returns every decoded entry in ascending tileID order.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, d.Len())
	for i := range out {
		out[i] = d.At(i)
	}
	return out
}

// TileEntries returns only the tile entries (runLength >= 1), filtering out
// leaf pointers, matching the C7 tile_entries traversal helper in spec.md
// §4.7.
func (d *Directory) TileEntries() []Entry {
	out := make([]Entry, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		if d.runLength[i] >= 1 {
			out = append(out, d.At(i))
		}
	}
	return out
}

// TileIndices expands a run-length tile entry into the individual tile
// coordinates it covers (spec.md §4.7 tile_indices).
func TileIndices(e Entry) []TileCoord {
	n := e.RunLength
	if n == 0 {
		n = 1
	}
	out := make([]TileCoord, 0, n)
	for i := uint64(0); i < uint64(n); i++ {
		out = append(out, TileCoordFromID(e.TileID+i))
	}
	return out
}

// DeserializeDirectory decodes a directory from its wire form (spec.md
// §4.5): a varint entry count, then four varint-encoded columns
// (delta-coded tileIDs, runLengths, lengths, packed offsets). data is
// assumed already decompressed.
func DeserializeDirectory(data []byte) (*Directory, error) {
	br := bufio.NewReader(bytes.NewReader(data))

	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, wrapError(CodeInvalidDirectory, "reading entry count", err)
	}

	d := &Directory{
		tileID:    make([]uint64, n),
		offset:    make([]uint64, n),
		length:    make([]uint32, n),
		runLength: make([]uint32, n),
	}

	var lastID uint64
	for i := uint64(0); i < n; i++ {
		delta, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading tileId delta", err)
		}
		lastID += delta
		d.tileID[i] = lastID
		if i > 0 && d.tileID[i] <= d.tileID[i-1] {
			return nil, newError(CodeInvalidDirectory, "tileIds are not strictly ascending")
		}
	}

	for i := uint64(0); i < n; i++ {
		rl, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading runLength", err)
		}
		d.runLength[i] = uint32(rl)
	}

	for i := uint64(0); i < n; i++ {
		l, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading length", err)
		}
		if l == 0 {
			return nil, newError(CodeInvalidDirectory, "entry length must be greater than zero")
		}
		d.length[i] = uint32(l)
	}

	for i := uint64(0); i < n; i++ {
		v, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading offset", err)
		}
		if v == 0 && i > 0 {
			d.offset[i] = d.offset[i-1] + uint64(d.length[i-1])
		} else {
			d.offset[i] = v - 1
		}
	}

	return d, nil
}

// SerializeDirectory encodes entries (which must already be sorted strictly
// ascending by TileID) into the wire form DeserializeDirectory decodes. See
// DeserializeDirectory's doc comment for the column layout.
func SerializeDirectory(entries []Entry) []byte {
	var buf bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		buf.Write(tmp[:n])
	}

	putUvarint(uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		putUvarint(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		putUvarint(uint64(e.RunLength))
	}
	for _, e := range entries {
		putUvarint(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			putUvarint(0)
		} else {
			putUvarint(e.Offset + 1)
		}
	}

	return buf.Bytes()
}
