package pmtiles

import "context"

// BlockAlignedReader decorates a RangeReader so every request to the
// wrapped reader is expanded to a multiple of BlockSize bytes starting on a
// block boundary. This lets a following cache layer coalesce adjacent small
// reads (e.g. repeated tile fetches within the same directory block) into
// one backend round trip (spec.md §4.2.3).
type BlockAlignedReader struct {
	inner     RangeReader
	blockSize uint64
}

// NewBlockAlignedReader wraps inner, rounding every read out to
// opts.BlockSize-aligned boundaries. BlockSize must be a power of two.
func NewBlockAlignedReader(inner RangeReader, opts BlockAlignedOptions) (*BlockAlignedReader, error) {
	if opts.BlockSize == 0 {
		opts = DefaultBlockAlignedOptions()
	}
	if opts.BlockSize&(opts.BlockSize-1) != 0 {
		return nil, newError(CodeInvalidArgument, "block size must be a power of two")
	}
	return &BlockAlignedReader{inner: inner, blockSize: uint64(opts.BlockSize)}, nil
}

func (r *BlockAlignedReader) align(offset uint64, length int) (alignedOffset uint64, alignedLength int) {
	alignedOffset = offset - (offset % r.blockSize)
	end := offset + uint64(length)
	alignedEnd := end
	if rem := end % r.blockSize; rem != 0 {
		alignedEnd += r.blockSize - rem
	}
	return alignedOffset, int(alignedEnd - alignedOffset)
}

func (r *BlockAlignedReader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	alignedOffset, alignedLength := r.align(offset, len(dst))

	buf := DefaultBufferPool().Acquire(alignedLength)
	defer DefaultBufferPool().Release(buf)

	n, err := r.inner.ReadRange(ctx, alignedOffset, buf[:alignedLength])
	if err != nil {
		return 0, err
	}

	skip := int(offset - alignedOffset)
	if skip >= n {
		return 0, newError(CodeOutOfRange, "offset is at or past the end of the source")
	}
	copied := copy(dst, buf[skip:n])
	return copied, nil
}

func (r *BlockAlignedReader) Size(ctx context.Context) (uint64, error) {
	return r.inner.Size(ctx)
}

func (r *BlockAlignedReader) SourceID() string {
	return r.inner.SourceID()
}
