package pmtiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Reader is a RangeReader backed by S3 ranged GetObject calls.
type S3Reader struct {
	client *s3.Client
	bucket string
	key    string

	size     uint64
	sizeKnow bool
}

// OpenS3 opens bucket/key for ranged reads using client. If client is nil,
// a *s3.Client is constructed from the ambient AWS config (environment,
// shared config file, or instance role).
func OpenS3(ctx context.Context, bucket, key string, client *s3.Client) (*S3Reader, error) {
	if client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, wrapError(CodeIO, "loading aws config", err)
		}
		client = s3.NewFromConfig(cfg)
	}
	return &S3Reader{client: client, bucket: bucket, key: key}, nil
}

func (r *S3Reader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(len(dst))-1)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, mapS3Error(err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil {
		r.trackSizeFromRange(aws.ToString(out.ContentRange))
	}

	n, err := io.ReadFull(out.Body, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, wrapIOError("reading s3 object body", err, true)
	}
	return n, nil
}

// trackSizeFromRange opportunistically records the object's total size from
// a "bytes start-end/total" Content-Range header, saving a HeadObject call
// for a subsequent Size().
func (r *S3Reader) trackSizeFromRange(contentRange string) {
	i := strings.LastIndex(contentRange, "/")
	if i < 0 || i == len(contentRange)-1 {
		return
	}
	var total uint64
	if _, err := fmt.Sscanf(contentRange[i+1:], "%d", &total); err == nil {
		r.size = total
		r.sizeKnow = true
	}
}

func (r *S3Reader) Size(ctx context.Context) (uint64, error) {
	if r.sizeKnow {
		return r.size, nil
	}
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return 0, mapS3Error(err)
	}
	if out.ContentLength == nil {
		return 0, newError(CodeSizeUnknown, "s3 head response had no content length")
	}
	r.size = uint64(*out.ContentLength)
	r.sizeKnow = true
	return r.size, nil
}

func (r *S3Reader) SourceID() string {
	return "s3://" + r.bucket + "/" + r.key
}

// mapS3Error translates the AWS SDK v2 error taxonomy into the package's
// Code taxonomy, following the teacher's awserr.RequestFailure inspection
// in bucket.go adapted to the v2 smithy error types.
func mapS3Error(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return wrapError(CodeOutOfRange, "s3 object not found", err)
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return wrapError(CodeOutOfRange, "s3 object not found", err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 416:
			return wrapError(CodeOutOfRange, "s3 requested range not satisfiable", err)
		case 404:
			return wrapError(CodeOutOfRange, "s3 object not found", err)
		case 403:
			return wrapError(CodeInvalidArgument, "s3 access denied", err)
		}
		return wrapIOError(fmt.Sprintf("s3 error: status %d", respErr.HTTPStatusCode()), err, respErr.HTTPStatusCode() >= 500)
	}
	return wrapIOError("s3 request failed", err, true)
}

type s3Factory struct{}

func (s3Factory) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

func (s3Factory) Open(ctx context.Context, uri string, _ ...Option) (RangeReader, error) {
	bucket, key, err := splitBucketKey(uri, "s3://")
	if err != nil {
		return nil, err
	}
	return OpenS3(ctx, bucket, key, nil)
}

// splitBucketKey splits a "<scheme>bucket/key/with/slashes" URI into its
// bucket and key components, shared by the s3 and gcs factories.
func splitBucketKey(uri, scheme string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, scheme)
	i := strings.Index(rest, "/")
	if i < 0 {
		return "", "", newError(CodeInvalidArgument, fmt.Sprintf("uri %q is missing a key component", uri))
	}
	return rest[:i], rest[i+1:], nil
}

func init() {
	defaultRegistry.Register(s3Factory{})
}
