package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/granthub/granthub/internal/db"
	"github.com/granthub/granthub/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultConcurrency = 5
	maxDumpRunes       = 200_000
)

// Sink persists merged records with insert-or-fetch semantics on the
// (title, source_url) key. Implementations must be safe for concurrent use.
type Sink interface {
	UpsertGrant(ctx context.Context, g *models.Grant) (uuid.UUID, bool, error)
	UpsertScholarship(ctx context.Context, s *models.Scholarship) (uuid.UUID, bool, error)
	UpsertInternship(ctx context.Context, in *models.Internship) (uuid.UUID, bool, error)
}

// RunRecorder keeps the ingest run log.
type RunRecorder interface {
	StartRun(ctx context.Context, sourceID string) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, sum db.RunSummary) error
}

// Pipeline walks a source's listing pages, fetches detail pages and writes
// merged records to Sink.
type Pipeline struct {
	Fetcher Fetcher
	// DetailFetcher serves detail pages; Fetcher is used when nil.
	DetailFetcher Fetcher
	Sink          Sink
	Recorder      RunRecorder
	Logger        *zap.Logger
	Now           func() time.Time
	// DumpDir receives the raw body of listing pages that yielded nothing.
	// Empty disables dumps.
	DumpDir string
}

func NewPipeline(fetcher Fetcher, sink Sink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.L()
	}
	return &Pipeline{Fetcher: fetcher, Sink: sink, Logger: logger, Now: time.Now}
}

// RunOptions bound one run. Whichever of PageCount and ItemCap binds first stops it.
type RunOptions struct {
	PageCount   int
	StartPage   int
	ItemCap     int
	PerPage     int
	Throttle    time.Duration
	ItemDelay   time.Duration
	Concurrency int
	DryRun      bool
	SkipStale   bool
	Params      map[string]string
}

// DefaultRunOptions returns the source's configured run defaults.
func DefaultRunOptions(cfg SourceConfig) RunOptions {
	opts := RunOptions{
		PageCount:   cfg.Run.PageCount,
		StartPage:   cfg.Run.StartPage,
		ItemCap:     cfg.Run.ItemCap,
		PerPage:     cfg.Run.PerPage,
		Throttle:    time.Duration(cfg.Run.ThrottleSeconds * float64(time.Second)),
		ItemDelay:   time.Duration(cfg.Fetch.ItemDelayMS) * time.Millisecond,
		Concurrency: cfg.Fetch.Concurrency,
		SkipStale:   cfg.Run.SkipStale,
	}
	if opts.PageCount == 0 {
		opts.PageCount = 1
	}
	if opts.StartPage == 0 {
		opts.StartPage = 1
	}
	if opts.ItemCap == 0 {
		opts.ItemCap = 50
	}
	return opts
}

func (o RunOptions) Validate() error {
	switch {
	case o.PageCount < 1:
		return eris.Wrapf(ErrInvalidParams, "page count must be at least 1, got %d", o.PageCount)
	case o.StartPage < 1:
		return eris.Wrapf(ErrInvalidParams, "start page must be at least 1, got %d", o.StartPage)
	case o.ItemCap < 1:
		return eris.Wrapf(ErrInvalidParams, "item cap must be at least 1, got %d", o.ItemCap)
	case o.PerPage < 0:
		return eris.Wrapf(ErrInvalidParams, "per page must not be negative, got %d", o.PerPage)
	case o.Throttle < 0 || o.ItemDelay < 0:
		return eris.Wrap(ErrInvalidParams, "delays must not be negative")
	case o.Concurrency < 0:
		return eris.Wrapf(ErrInvalidParams, "concurrency must not be negative, got %d", o.Concurrency)
	}
	return nil
}

// RunResult summarizes a run. IDs holds every identity written or found,
// Inserted only the rows this run created.
type RunResult struct {
	Source       string      `json:"source"`
	DryRun       bool        `json:"dry_run"`
	Inserted     int         `json:"inserted_count"`
	IDs          []uuid.UUID `json:"ids,omitempty"`
	Previews     []string    `json:"items,omitempty"`
	Pages        int         `json:"pages"`
	ItemsSeen    int         `json:"items_seen"`
	DetailErrors int         `json:"detail_errors"`
	SkippedStale int         `json:"skipped_stale"`
	Duplicates   int         `json:"duplicates"`
}

// Run executes one ingest run. Pages are processed strictly in order; a
// listing fetch failure or a sink failure other than a duplicate key aborts
// the run and returns the partial result alongside the error.
func (p *Pipeline) Run(ctx context.Context, src Source, opts RunOptions) (res *RunResult, err error) {
	cfg := src.Config()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !opts.DryRun && p.Sink == nil {
		return nil, eris.Wrap(ErrInvalidParams, "no sink configured for a persisting run")
	}

	log := p.logger().With(zap.String("source", cfg.ID))
	now := p.now()
	res = &RunResult{Source: cfg.ID, DryRun: opts.DryRun}
	start := time.Now()

	if !opts.DryRun {
		runID, ok := p.startRun(ctx, cfg.ID, log)
		if ok {
			defer func() { p.finishRun(ctx, runID, res, err, log) }()
		}
	}

	var limiter *rate.Limiter
	if opts.ItemDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.ItemDelay), 1)
	}

	req := PageRequest{Page: opts.StartPage, PerPage: opts.PerPage, Params: opts.Params}
	pageURL := src.ListURL(req)
	remaining := opts.ItemCap
	visited := make(map[string]bool)

	for page := 0; page < opts.PageCount && remaining > 0; page++ {
		key := CanonicalizeURL(pageURL)
		if visited[key] {
			log.Warn("pagination cycle detected", zap.String("url", pageURL))
			break
		}
		visited[key] = true

		body, finalURL, err := p.fetchBody(ctx, p.Fetcher, pageURL, cfg)
		if err != nil {
			return res, eris.Wrapf(err, "ingest: fetch listing page %d", req.Page)
		}
		res.Pages++

		items := src.ParseListing(body, finalURL, now)
		log.Info("listing page parsed", zap.Int("page", req.Page), zap.Int("items", len(items)))
		if len(items) == 0 {
			p.dumpListing(cfg.ID, req.Page, body, log)
			break
		}

		if len(items) > remaining {
			items = items[:remaining]
		}
		res.ItemsSeen += len(items)
		remaining -= len(items)

		details, errs := p.fetchDetails(ctx, src, items, opts, limiter, now)
		for i, item := range items {
			if errs[i] != nil {
				res.DetailErrors++
				log.Warn("detail fetch failed, using listing fields",
					zap.String("url", item.DetailURL), zap.Error(errs[i]))
			}
			rec := buildRecord(cfg, item, details[i])

			if opts.SkipStale && IsStaleTitle(rec.Title, now) {
				res.SkippedStale++
				log.Debug("skipping stale title", zap.String("title", rec.Title))
				continue
			}
			if opts.DryRun {
				res.Previews = append(res.Previews, rec.Preview())
				continue
			}

			id, created, err := p.write(ctx, rec)
			if errors.Is(err, db.ErrDuplicateKey) {
				res.Duplicates++
				log.Debug("duplicate record skipped", zap.String("title", rec.Title), zap.Error(err))
				continue
			}
			if err != nil {
				return res, eris.Wrapf(err, "ingest: write %q", rec.Title)
			}
			res.IDs = append(res.IDs, id)
			if created {
				res.Inserted++
			}
		}

		if remaining <= 0 || page+1 >= opts.PageCount {
			break
		}
		next, ok := src.NextPage(body, finalURL, req)
		if !ok {
			log.Info("no next page", zap.Int("page", req.Page))
			break
		}
		req.Page++
		pageURL = next

		if err := sleepCtx(ctx, opts.Throttle); err != nil {
			return res, eris.Wrap(err, "ingest: throttle")
		}
	}

	log.Info("run finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("pages", res.Pages),
		zap.Int("items", res.ItemsSeen),
		zap.Int("inserted", res.Inserted),
		zap.Int("previews", len(res.Previews)),
		zap.Int("detail_errors", res.DetailErrors),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// fetchDetails fetches every item's detail page with bounded concurrency.
// Slot i of both results belongs to items[i]; a failed fetch leaves a nil
// detail and its error in place without affecting siblings.
func (p *Pipeline) fetchDetails(ctx context.Context, src Source, items []ListingItem, opts RunOptions, limiter *rate.Limiter, now time.Time) ([]*DetailFields, []error) {
	cfg := src.Config()
	fetcher := p.DetailFetcher
	if fetcher == nil {
		fetcher = p.Fetcher
	}
	limit := opts.Concurrency
	if limit == 0 {
		limit = cfg.Fetch.Concurrency
	}
	if limit <= 0 {
		limit = defaultConcurrency
	}

	details := make([]*DetailFields, len(items))
	errs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					errs[i] = err
					return nil
				}
			}
			body, finalURL, err := p.fetchBody(gctx, fetcher, item.DetailURL, cfg)
			if err != nil {
				errs[i] = err
				return nil
			}
			d := src.ParseDetail(body, finalURL, now)
			details[i] = &d
			return nil
		})
	}
	_ = g.Wait()
	return details, errs
}

func (p *Pipeline) fetchBody(ctx context.Context, f Fetcher, url string, cfg SourceConfig) ([]byte, string, error) {
	if cfg.Fetch.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer doc.Body.Close()

	body, err := readBody(doc.Body)
	if err != nil {
		return nil, "", &FetchError{URL: url, Err: err}
	}
	finalURL := doc.URL
	if finalURL == "" {
		finalURL = url
	}
	return body, finalURL, nil
}

// buildRecord merges detail fields over listing fields over source defaults.
func buildRecord(cfg SourceConfig, item ListingItem, detail *DetailFields) Record {
	var d DetailFields
	if detail != nil {
		d = *detail
	}

	rec := Record{
		Kind:        cfg.Kind,
		Title:       firstNonEmpty(StripMarkup(d.Title), StripMarkup(item.Title), "Untitled"),
		Description: StripMarkup(d.Description),
		SourceURL:   item.DetailURL,
		Deadline:    firstDate(d.Deadline, item.CloseDate),
		PublishedAt: firstDate(d.PostedAt, item.PostedAt),
		Country:     firstNonEmpty(d.Country, cfg.Defaults.Country),
		Region:      cfg.Defaults.Region,
		Language:    cfg.Defaults.Language,
		Provider:    firstNonEmpty(d.Provider, item.Provider, cfg.Defaults.Provider, "Unknown agency"),
		ImageURL:    d.ImageURL,
		Level:       d.Level,
		Duration:    d.Duration,
		Paid:        d.Paid,
	}
	if rec.Deadline == nil {
		rec.DeadlineText = d.DeadlineText
	}
	if rec.Level == "" && cfg.Detail.InferLevel {
		rec.Level = InferLevel(rec.Title + " " + rec.Description)
	}
	return rec
}

func firstDate(dates ...*time.Time) *time.Time {
	for _, d := range dates {
		if d != nil {
			return d
		}
	}
	return nil
}

func (p *Pipeline) write(ctx context.Context, rec Record) (uuid.UUID, bool, error) {
	switch rec.Kind {
	case models.KindScholarship:
		return p.Sink.UpsertScholarship(ctx, rec.Scholarship())
	case models.KindInternship:
		return p.Sink.UpsertInternship(ctx, rec.Internship())
	default:
		return p.Sink.UpsertGrant(ctx, rec.Grant())
	}
}

// dumpListing writes the start of an empty listing page for offline
// debugging. Failures are logged and otherwise ignored.
func (p *Pipeline) dumpListing(sourceID string, page int, body []byte, log *zap.Logger) {
	if p.DumpDir == "" {
		return
	}
	path := filepath.Join(p.DumpDir, fmt.Sprintf("%s_page%d_dump.html", sourceID, page))
	if err := os.MkdirAll(p.DumpDir, 0o755); err != nil {
		log.Debug("dump dir unavailable", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, []byte(truncateRunes(string(body), maxDumpRunes)), 0o644); err != nil {
		log.Debug("listing dump failed", zap.String("path", path), zap.Error(err))
		return
	}
	log.Info("empty listing dumped", zap.String("path", path))
}

func (p *Pipeline) startRun(ctx context.Context, sourceID string, log *zap.Logger) (uuid.UUID, bool) {
	if p.Recorder == nil {
		return uuid.Nil, false
	}
	id, err := p.Recorder.StartRun(ctx, sourceID)
	if err != nil {
		log.Warn("failed to create ingest run", zap.Error(err))
		return uuid.Nil, false
	}
	return id, true
}

func (p *Pipeline) finishRun(ctx context.Context, id uuid.UUID, res *RunResult, runErr error, log *zap.Logger) {
	sum := db.RunSummary{Status: db.RunStatusCompleted}
	if res != nil {
		sum.Found = res.ItemsSeen
		sum.Saved = res.Inserted
		sum.Errors = res.DetailErrors
	}
	if runErr != nil {
		sum.Status = db.RunStatusFailed
		sum.Errors++
	}
	// The run context may already be cancelled; the log row should still close.
	if err := p.Recorder.FinishRun(context.WithoutCancel(ctx), id, sum); err != nil {
		log.Warn("failed to update ingest run", zap.String("run_id", id.String()), zap.Error(err))
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.L()
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
