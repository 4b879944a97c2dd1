package pmtiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// HTTPReader is a RangeReader backed by ranged HTTP(S) GET requests. It
// reuses a shared *http.Client (and therefore its connection pool) across
// concurrent calls and retries idempotent GETs on transient network errors
// and 5xx responses with bounded exponential backoff (spec.md §4.1).
type HTTPReader struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	logger     *zap.Logger

	sizeOnce sync.Once
	size     atomic.Uint64
	sizeErr  error
}

// OpenHTTP constructs an HTTPReader for baseURL (e.g.
// "https://example.com/archive.pmtiles").
func OpenHTTP(baseURL string, opts ...Option) (*HTTPReader, error) {
	o := resolveOptions(opts)
	client := o.httpClient
	if client == nil {
		client = &http.Client{
			Timeout: o.connectTimeout + o.readTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: o.maxConnections,
				MaxConnsPerHost:     o.maxConnections,
			},
		}
	}
	return &HTTPReader{
		baseURL:    baseURL,
		client:     client,
		maxRetries: 2,
		logger:     o.logger,
	}, nil
}

func (r *HTTPReader) do(ctx context.Context, offset uint64, length int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL, nil)
	if err != nil {
		return nil, wrapError(CodeInvalidArgument, "building http request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(length)-1))

	var resp *http.Response
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries)

	operation := func() error {
		var doErr error
		resp, doErr = r.client.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(wrapError(CodeTimeout, "http request canceled or timed out", ctx.Err()))
			}
			return wrapIOError("http request failed", doErr, true)
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return wrapIOError(fmt.Sprintf("http server error: %d", resp.StatusCode), nil, true)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			err := mapHTTPStatus(resp.StatusCode)
			resp.Body.Close()
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var perm *backoff.PermanentError
		if pe, ok := err.(*backoff.PermanentError); ok {
			perm = pe
		}
		if perm != nil {
			return nil, perm.Err
		}
		r.logger.Warn("http range read exhausted retries", zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func mapHTTPStatus(status int) error {
	switch {
	case status == http.StatusRequestedRangeNotSatisfiable:
		return newError(CodeOutOfRange, "requested range not satisfiable")
	case status == http.StatusRequestTimeout:
		return newError(CodeTimeout, "http request timed out")
	case status >= 400 && status < 500:
		return newError(CodeIO, fmt.Sprintf("http client error: %d", status))
	default:
		return newError(CodeIO, fmt.Sprintf("unexpected http status: %d", status))
	}
}

func (r *HTTPReader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	size, err := r.Size(ctx)
	if err != nil {
		return 0, err
	}
	if err := validateReadArgs(size, offset, len(dst)); err != nil {
		return 0, err
	}
	n := clampLength(size, offset, len(dst))

	resp, err := r.do(ctx, offset, n)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	read, err := io.ReadFull(resp.Body, dst[:n])
	if err != nil && err != io.ErrUnexpectedEOF {
		return read, wrapIOError("reading http response body", err, true)
	}
	return read, nil
}

func (r *HTTPReader) Size(ctx context.Context) (uint64, error) {
	r.sizeOnce.Do(func() {
		if size, ok := r.sizeFromHead(ctx); ok {
			r.size.Store(size)
			return
		}
		size, err := r.sizeFromRangedGet(ctx)
		if err != nil {
			r.sizeErr = err
			return
		}
		r.size.Store(size)
	})
	if r.sizeErr != nil {
		return 0, r.sizeErr
	}
	return r.size.Load(), nil
}

// sizeFromHead tries to discover the archive size via a HEAD request.
// It reports ok=false (not an error) whenever HEAD is unavailable or
// doesn't carry a usable Content-Length, so the caller can fall back to a
// ranged GET per spec.md §4.1.
func (r *HTTPReader) sizeFromHead(ctx context.Context) (uint64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.baseURL, nil)
	if err != nil {
		return 0, false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0, false
	}
	return uint64(resp.ContentLength), true
}

// sizeFromRangedGet discovers the total archive size from the Content-Range
// header of a minimal ranged GET, for servers that don't support or allow
// HEAD requests.
func (r *HTTPReader) sizeFromRangedGet(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL, nil)
	if err != nil {
		return 0, wrapError(CodeInvalidArgument, "building ranged get request", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, wrapIOError("ranged get for size discovery failed", err, true)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
		return uint64(resp.ContentLength), nil
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, newError(CodeSizeUnknown, fmt.Sprintf("ranged get returned unexpected status: %d", resp.StatusCode))
	}
	total, ok := totalSizeFromContentRange(resp.Header.Get("Content-Range"))
	if !ok {
		return 0, newError(CodeSizeUnknown, "server did not report a usable Content-Range")
	}
	return total, nil
}

// totalSizeFromContentRange parses the "/<total>" suffix of a
// "bytes <start>-<end>/<total>" Content-Range header value.
func totalSizeFromContentRange(header string) (uint64, bool) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, false
	}
	total, err := strconv.ParseUint(header[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

func (r *HTTPReader) SourceID() string {
	return r.baseURL
}

type httpFactory struct{}

func (httpFactory) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func (httpFactory) Open(_ context.Context, uri string, opts ...Option) (RangeReader, error) {
	return OpenHTTP(uri, opts...)
}

func init() {
	defaultRegistry.Register(httpFactory{})
}
