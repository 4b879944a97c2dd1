package pmtiles

import (
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestMapGCSErrorObjectNotExist(t *testing.T) {
	err := mapGCSError(storage.ErrObjectNotExist)
	assert.True(t, isCode(err, CodeOutOfRange))
}

func TestMapGCSErrorAPIStatus(t *testing.T) {
	err := mapGCSError(&googleapi.Error{Code: 416})
	assert.True(t, isCode(err, CodeOutOfRange))

	err = mapGCSError(&googleapi.Error{Code: 403})
	assert.True(t, isCode(err, CodeInvalidArgument))

	err = mapGCSError(&googleapi.Error{Code: 503})
	assert.True(t, isCode(err, CodeIO))
	var pmErr *Error
	assert.True(t, errors.As(err, &pmErr))
	assert.True(t, pmErr.Retryable)
}

func TestMapGCSErrorGeneric(t *testing.T) {
	err := mapGCSError(errors.New("boom"))
	assert.True(t, isCode(err, CodeIO))
}

func TestGCSFactoryCanHandle(t *testing.T) {
	f := gcsFactory{}
	assert.True(t, f.CanHandle("gs://bucket/object"))
	assert.False(t, f.CanHandle("az://account/container/blob"))
}
