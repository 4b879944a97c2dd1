package pmtiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobReader is a RangeReader backed by Azure Blob Storage ranged
// downloads.
type AzureBlobReader struct {
	client    *azblob.Client
	container string
	blob      string

	size     uint64
	sizeKnow bool
}

// OpenAzureBlob opens container/blob for ranged reads against accountURL
// (e.g. "https://myaccount.blob.core.windows.net"), using an anonymous or
// SAS-authenticated client. Use azblob directly for credentialed access.
func OpenAzureBlob(ctx context.Context, accountURL, container, blobName string) (*AzureBlobReader, error) {
	client, err := azblob.NewClientWithNoCredential(accountURL, nil)
	if err != nil {
		return nil, wrapError(CodeIO, "creating azure blob client", err)
	}
	return &AzureBlobReader{client: client, container: container, blob: blobName}, nil
}

func (r *AzureBlobReader) ReadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, newError(CodeInvalidArgument, "length must be greater than zero")
	}
	count := int64(len(dst))
	resp, err := r.client.DownloadStream(ctx, r.container, r.blob, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: int64(offset), Count: count},
	})
	if err != nil {
		return 0, mapAzureError(err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && resp.ContentRange != nil {
		r.trackSizeFromRange(*resp.ContentRange)
	}

	n, err := io.ReadFull(resp.Body, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, wrapIOError("reading azure blob body", err, true)
	}
	return n, nil
}

func (r *AzureBlobReader) trackSizeFromRange(contentRange string) {
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

func (r *AzureBlobReader) Size(ctx context.Context) (uint64, error) {
	if r.sizeKnow {
		return r.size, nil
	}
	props, err := r.client.ServiceClient().NewContainerClient(r.container).NewBlobClient(r.blob).GetProperties(ctx, nil)
	if err != nil {
		return 0, mapAzureError(err)
	}
	if props.ContentLength == nil {
		return 0, newError(CodeSizeUnknown, "azure blob properties had no content length")
	}
	r.size = uint64(*props.ContentLength)
	r.sizeKnow = true
	return r.size, nil
}

func (r *AzureBlobReader) SourceID() string {
	return "az://" + r.container + "/" + r.blob
}

// mapAzureError translates *azcore.ResponseError into the package's Code
// taxonomy, the Azure counterpart of mapS3Error/mapGCSError.
func mapAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 416:
			return wrapError(CodeOutOfRange, "azure requested range not satisfiable", err)
		case 404:
			return wrapError(CodeOutOfRange, "azure blob not found", err)
		case 403:
			return wrapError(CodeInvalidArgument, "azure access denied", err)
		}
		return wrapIOError(fmt.Sprintf("azure error: status %d", respErr.StatusCode), err, respErr.StatusCode >= 500)
	}
	return wrapIOError("azure request failed", err, true)
}

type azureFactory struct{}

func (azureFactory) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "az://") || strings.HasPrefix(uri, "azblob://")
}

// Open parses a "az://account/container/blob/path" uri into its three
// components and opens a reader against the account's public endpoint.
func (azureFactory) Open(ctx context.Context, uri string, _ ...Option) (RangeReader, error) {
	scheme := "az://"
	if strings.HasPrefix(uri, "azblob://") {
		scheme = "azblob://"
	}
	rest := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("uri %q must be az://account/container/blob", uri))
	}
	account, container, blobName := parts[0], parts[1], parts[2]
	accountURL := fmt.Sprintf("https://%s.blob.core.windows.net", account)
	return OpenAzureBlob(ctx, accountURL, container, blobName)
}

func init() {
	defaultRegistry.Register(azureFactory{})
}
