package ingest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PageCache stores raw page bodies by URL.
type PageCache interface {
	Get(ctx context.Context, url string) ([]byte, bool)
	Set(ctx context.Context, url string, body []byte) error
}

// CachedFetcher serves bodies from Cache when present and stores successful
// fetches from Next. Cache failures never fail the fetch.
type CachedFetcher struct {
	Next   Fetcher
	Cache  PageCache
	Logger *zap.Logger
}

func (f *CachedFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	key := CanonicalizeURL(url)
	if body, ok := f.Cache.Get(ctx, key); ok {
		return &FetchedDocument{
			URL:        url,
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			FetchedAt:  time.Now(),
			Headers:    map[string][]string{"X-Cache": {"hit"}},
		}, nil
	}

	doc, err := f.Next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()

	body, err := readBody(doc.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if err := f.Cache.Set(ctx, key, body); err != nil && f.Logger != nil {
		f.Logger.Debug("page cache write failed", zap.String("url", url), zap.Error(err))
	}

	doc.Body = io.NopCloser(bytes.NewReader(body))
	return doc, nil
}

const maxPageBytes = 10 * 1024 * 1024

func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxPageBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
