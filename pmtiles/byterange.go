package pmtiles

import "fmt"

// ByteRange identifies a half-open span [Offset, Offset+Length) of a source.
// It is comparable and used directly as a cache key component.
type ByteRange struct {
	Offset uint64
	Length uint32
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, uint64(r.Offset)+uint64(r.Length))
}

// End returns the exclusive end offset of the range.
func (r ByteRange) End() uint64 {
	return r.Offset + uint64(r.Length)
}

// weight approximates the in-memory footprint of a cached copy of this
// range's bytes, per spec.md §3 ("bytes.length + ~32 overhead").
func (r ByteRange) weight() int64 {
	return int64(r.Length) + 32
}
