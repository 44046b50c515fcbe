package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/granthub/granthub/internal/db"
)

var (
	// ErrInvalidParams rejects a run before any fetch happens.
	ErrInvalidParams = errors.New("invalid run parameters")
	// ErrUnknownSource means the id is not in the source registry.
	ErrUnknownSource = errors.New("unknown source")
	// ErrBodyTooLarge means a page exceeded the read limit and was discarded.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError reports a non-2xx response or a transport failure for one URL.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch failed because a deadline passed.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Retryable reports whether re-running the fetch may succeed.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, ErrBodyTooLarge)
	}
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Error kinds reported at the trigger boundary.
const (
	KindFetchError    = "fetch_error"
	KindInvalidParams = "invalid_params"
	KindUnknownSource = "unknown_source"
	KindDuplicateKey  = "duplicate_key"
	KindInternal      = "internal"
)

// ErrorKind classifies err for structured error payloads.
func ErrorKind(err error) string {
	var fe *FetchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return KindFetchError
	case errors.Is(err, ErrInvalidParams):
		return KindInvalidParams
	case errors.Is(err, ErrUnknownSource):
		return KindUnknownSource
	case errors.Is(err, db.ErrDuplicateKey):
		return KindDuplicateKey
	}
	return KindInternal
}
