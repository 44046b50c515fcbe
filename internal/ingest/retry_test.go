package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryRun(t *testing.T) {
	retryable := eris.Wrap(&FetchError{URL: "u", StatusCode: 503}, "ingest: fetch listing page 1")
	permanent := eris.Wrap(&FetchError{URL: "u", StatusCode: 404}, "ingest: fetch listing page 1")

	tests := []struct {
		name      string
		retries   int
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"success first time", 2, []error{nil}, 1, false},
		{"recovers", 2, []error{retryable, retryable, nil}, 3, false},
		{"exhausted", 1, []error{retryable, retryable, nil}, 2, true},
		{"permanent", 3, []error{permanent, nil}, 1, true},
		{"not a fetch error", 3, []error{errors.New("disk full"), nil}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			res, err := RetryRun(context.Background(), tt.retries, time.Millisecond, func(context.Context) (*RunResult, error) {
				err := tt.errs[calls]
				calls++
				return &RunResult{Pages: calls}, err
			})
			assert.Equal(t, tt.wantCalls, calls)
			require.NotNil(t, res)
			assert.Equal(t, calls, res.Pages, "the last attempt's result is returned")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryRun_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryRun(ctx, 5, time.Hour, func(context.Context) (*RunResult, error) {
		calls++
		cancel()
		return nil, &FetchError{URL: "u", StatusCode: 502}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
