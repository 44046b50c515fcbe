package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/granthub/granthub/internal/cache"
	"github.com/granthub/granthub/internal/config"
	"github.com/granthub/granthub/internal/db"
	"github.com/granthub/granthub/internal/ingest"
	"github.com/granthub/granthub/internal/models"
)

// store is what the commands need from either backend.
type store interface {
	ingest.Sink
	ingest.RunRecorder
	RecentRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	Count(ctx context.Context, kind models.Kind) (int, error)
}

// openStore opens the configured backend and makes sure its schema exists.
func openStore(ctx context.Context, c *config.Config) (store, func(), error) {
	switch c.Store.Driver {
	case "sqlite":
		st, err := db.OpenSQLite(ctx, c.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		pool, err := db.Connect(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, eris.Wrap(err, "migrate")
		}
		return db.NewPostgresStore(pool), pool.Close, nil
	}
}

// buildFetchers returns the listing fetcher and the detail fetcher. The
// detail fetcher goes through the Redis page cache when one is configured
// and reachable.
func buildFetchers(c *config.Config) (ingest.Fetcher, ingest.Fetcher, func()) {
	opts := ingest.HTTPOptions{
		Timeout:        c.Fetch.Timeout(),
		AcceptLanguage: c.Fetch.AcceptLanguage,
		BlockPrivate:   c.Fetch.BlockPrivate,
	}

	var base ingest.Fetcher
	switch c.Fetch.Backend {
	case "colly":
		base = ingest.NewCollyFetcher(opts)
	default:
		base = ingest.NewHTTPFetcher(opts)
	}

	if c.Cache.RedisURL == "" {
		return base, base, func() {}
	}
	pc, err := cache.New(c.Cache.RedisURL, c.Cache.TTL())
	if err != nil {
		zap.L().Warn("page cache unavailable, fetching detail pages directly", zap.Error(err))
		return base, base, func() {}
	}
	detail := &ingest.CachedFetcher{Next: base, Cache: pc, Logger: zap.L().Named("cache")}
	return base, detail, func() { _ = pc.Close() }
}

func newPipeline(c *config.Config, st store) (*ingest.Pipeline, func()) {
	listing, detail, closeFetch := buildFetchers(c)
	p := ingest.NewPipeline(listing, st, zap.L())
	p.DetailFetcher = detail
	p.Recorder = st
	p.DumpDir = c.Ingest.DumpDir
	return p, closeFetch
}
