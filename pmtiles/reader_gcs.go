package pmtiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSReader is a RangeReader backed by Google Cloud Storage ranged object
// reads.
type GCSReader struct {
	client *storage.Client
	bucket string
	object string

	size     uint64
	sizeKnow bool
}

// OpenGCS opens bucket/object for ranged reads using client. If client is
// nil, a *storage.Client is constructed from the ambient Application
// Default Credentials.
func OpenGCS(ctx context.Context, bucket, object string, client *storage.Client) (*GCSReader, error) {
	if client == nil {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, wrapError(CodeIO, "creating gcs client", err)
		}
		client = c
	}
	return &GCSReader{client: client, bucket: bucket, object: object}, nil
}

func (r *GCSReader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	obj := r.client.Bucket(r.bucket).Object(r.object)
	rc, err := obj.NewRangeReader(ctx, int64(offset), int64(len(dst)))
	if err != nil {
		return 0, mapGCSError(err)
	}
	defer rc.Close()

	r.size = uint64(rc.Attrs.Size)
	r.sizeKnow = true

	n, err := io.ReadFull(rc, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, wrapIOError("reading gcs object body", err, true)
	}
	return n, nil
}

func (r *GCSReader) Size(ctx context.Context) (uint64, error) {
	if r.sizeKnow {
		return r.size, nil
	}
	attrs, err := r.client.Bucket(r.bucket).Object(r.object).Attrs(ctx)
	if err != nil {
		return 0, mapGCSError(err)
	}
	r.size = uint64(attrs.Size)
	r.sizeKnow = true
	return r.size, nil
}

func (r *GCSReader) SourceID() string {
	return "gs://" + r.bucket + "/" + r.object
}

// mapGCSError translates *googleapi.Error and the storage package's
// sentinel ErrObjectNotExist into the package's Code taxonomy.
func mapGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return wrapError(CodeOutOfRange, "gcs object not found", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 416:
			return wrapError(CodeOutOfRange, "gcs requested range not satisfiable", err)
		case 404:
			return wrapError(CodeOutOfRange, "gcs object not found", err)
		case 403:
			return wrapError(CodeInvalidArgument, "gcs access denied", err)
		}
		return wrapIOError(fmt.Sprintf("gcs error: status %d", apiErr.Code), err, apiErr.Code >= 500)
	}
	return wrapIOError("gcs request failed", err, true)
}

type gcsFactory struct{}

func (gcsFactory) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "gs://")
}

func (gcsFactory) Open(ctx context.Context, uri string, _ ...Option) (RangeReader, error) {
	bucket, object, err := splitBucketKey(uri, "gs://")
	if err != nil {
		return nil, err
	}
	return OpenGCS(ctx, bucket, object, nil)
}

func init() {
	defaultRegistry.Register(gcsFactory{})
}
