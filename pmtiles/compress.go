package pmtiles

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decompress returns the decompressed form of data per the given
// Compression code. CompressionNone returns data unchanged (no copy).
// CodeUnsupportedCompression is returned for CompressionUnknown or any code
// this build does not bundle a decoder for.
func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "opening gzip stream", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading gzip stream", err)
		}
		return out, nil
	case CompressionBrotli:
		r := brotli.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading brotli stream", err)
		}
		return out, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "opening zstd stream", err)
		}
		defer dec.Close()
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, wrapError(CodeInvalidDirectory, "reading zstd stream", err)
		}
		return out, nil
	default:
		return nil, newError(CodeUnsupportedCompression, "no decoder bundled for this compression code")
	}
}

// compress encodes data per the given Compression code. It is used only by
// tests, to build compressed directory buffers and tile payloads for
// synthetic archives.
func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, newError(CodeUnsupportedCompression, "no encoder bundled for this compression code")
	}
}
