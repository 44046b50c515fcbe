package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/granthub/granthub/internal/db"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, KindFetchError, ErrorKind(eris.Wrap(&FetchError{URL: "u", StatusCode: 500}, "listing")))
	assert.Equal(t, KindInvalidParams, ErrorKind(eris.Wrapf(ErrInvalidParams, "page_count %d", 0)))
	assert.Equal(t, KindUnknownSource, ErrorKind(eris.Wrapf(ErrUnknownSource, "source %q", "x")))
	assert.Equal(t, KindDuplicateKey, ErrorKind(fmt.Errorf("write: %w", db.ErrDuplicateKey)))
	assert.Equal(t, KindInternal, ErrorKind(errors.New("boom")))
}

func TestFetchError(t *testing.T) {
	status := &FetchError{URL: "https://x.test/a", StatusCode: 503}
	assert.Equal(t, "fetch https://x.test/a: unexpected status code: 503", status.Error())
	assert.True(t, status.Retryable())
	assert.False(t, status.Timeout())

	assert.False(t, (&FetchError{URL: "u", StatusCode: 404}).Retryable())
	assert.True(t, (&FetchError{URL: "u", StatusCode: 429}).Retryable())

	timeout := &FetchError{URL: "u", Err: context.DeadlineExceeded}
	assert.True(t, timeout.Timeout())
	assert.True(t, timeout.Retryable())
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))

	cancelled := &FetchError{URL: "u", Err: context.Canceled}
	assert.False(t, cancelled.Retryable())

	assert.False(t, (&FetchError{URL: "u", Err: ErrBodyTooLarge}).Retryable())
}
