package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Parameter bounds accepted at the trigger boundary.
const (
	maxTriggerPages    = 25
	maxTriggerItemCap  = 500
	minTriggerPerPage  = 5
	maxTriggerPerPage  = 1000
	maxTriggerThrottle = 5.0
	maxTriggerRetries  = 5
)

// TriggerParams are the caller-facing knobs of a run. Start from
// DefaultTriggerParams and override what the caller set.
type TriggerParams struct {
	PageCount       int               `json:"page_count"`
	StartPage       int               `json:"start_page"`
	ItemCap         int               `json:"item_cap"`
	PerPage         int               `json:"per_page_size"`
	ThrottleSeconds float64           `json:"throttle_seconds"`
	DryRun          bool              `json:"dry_run"`
	SkipStale       bool              `json:"skip_stale"`
	Retries         int               `json:"retries"`
	Params          map[string]string `json:"params,omitempty"`
}

func DefaultTriggerParams(cfg SourceConfig) TriggerParams {
	opts := DefaultRunOptions(cfg)
	return TriggerParams{
		PageCount:       opts.PageCount,
		StartPage:       opts.StartPage,
		ItemCap:         opts.ItemCap,
		PerPage:         opts.PerPage,
		ThrottleSeconds: cfg.Run.ThrottleSeconds,
		SkipStale:       opts.SkipStale,
	}
}

func (p TriggerParams) Validate() error {
	switch {
	case p.PageCount < 1 || p.PageCount > maxTriggerPages:
		return eris.Wrapf(ErrInvalidParams, "page_count must be between 1 and %d, got %d", maxTriggerPages, p.PageCount)
	case p.StartPage < 1:
		return eris.Wrapf(ErrInvalidParams, "start_page must be at least 1, got %d", p.StartPage)
	case p.ItemCap < 1 || p.ItemCap > maxTriggerItemCap:
		return eris.Wrapf(ErrInvalidParams, "item_cap must be between 1 and %d, got %d", maxTriggerItemCap, p.ItemCap)
	case p.PerPage != 0 && (p.PerPage < minTriggerPerPage || p.PerPage > maxTriggerPerPage):
		return eris.Wrapf(ErrInvalidParams, "per_page_size must be 0 or between %d and %d, got %d", minTriggerPerPage, maxTriggerPerPage, p.PerPage)
	case p.ThrottleSeconds < 0 || p.ThrottleSeconds > maxTriggerThrottle:
		return eris.Wrapf(ErrInvalidParams, "throttle_seconds must be between 0 and %.0f, got %g", maxTriggerThrottle, p.ThrottleSeconds)
	case p.Retries < 0 || p.Retries > maxTriggerRetries:
		return eris.Wrapf(ErrInvalidParams, "retries must be between 0 and %d, got %d", maxTriggerRetries, p.Retries)
	}
	return nil
}

func (p TriggerParams) runOptions(cfg SourceConfig) RunOptions {
	opts := DefaultRunOptions(cfg)
	opts.PageCount = p.PageCount
	opts.StartPage = p.StartPage
	opts.ItemCap = p.ItemCap
	opts.PerPage = p.PerPage
	opts.Throttle = time.Duration(p.ThrottleSeconds * float64(time.Second))
	opts.DryRun = p.DryRun
	opts.SkipStale = p.SkipStale
	opts.Params = p.Params
	return opts
}

// TriggerResult is what callers of a run see. Persisting runs fill
// InsertedCount and IDs, dry runs fill PreviewCount and Items. When a run is
// retried, InsertedCount and IDs cover every attempt while the remaining
// counters describe the last one. Each attempt records its own run-log row.
type TriggerResult struct {
	Source          string      `json:"source"`
	DryRun          bool        `json:"dry_run"`
	InsertedCount   int         `json:"inserted_count"`
	IDs             []uuid.UUID `json:"ids"`
	PreviewCount    int         `json:"preview_count,omitempty"`
	Items           []string    `json:"items,omitempty"`
	Pages           int         `json:"pages"`
	StartPage       int         `json:"start_page"`
	ThrottleSeconds float64     `json:"throttle_seconds"`
	DetailErrors    int         `json:"detail_errors"`
	SkippedStale    int         `json:"skipped_stale"`
}

// Trigger validates params and runs sourceID through p, retrying the whole
// run on retryable fetch failures. On failure the partial result is returned
// with the error.
func Trigger(ctx context.Context, p *Pipeline, reg *Registry, sourceID string, params TriggerParams) (*TriggerResult, error) {
	src, err := reg.Source(sourceID)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opts := params.runOptions(src.Config())

	// Rows created by a failed attempt are only "found" by the next one.
	inserted := 0
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	res, err := RetryRun(ctx, params.Retries, 0, func(ctx context.Context) (*RunResult, error) {
		r, err := p.Run(ctx, src, opts)
		if r != nil {
			inserted += r.Inserted
			for _, id := range r.IDs {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		return r, err
	})
	if res == nil {
		return nil, err
	}

	out := &TriggerResult{
		Source:          res.Source,
		DryRun:          res.DryRun,
		InsertedCount:   inserted,
		IDs:             ids,
		Pages:           res.Pages,
		StartPage:       params.StartPage,
		ThrottleSeconds: params.ThrottleSeconds,
		DetailErrors:    res.DetailErrors,
		SkippedStale:    res.SkippedStale,
	}
	if out.IDs == nil {
		out.IDs = []uuid.UUID{}
	}
	if res.DryRun {
		out.PreviewCount = len(res.Previews)
		out.Items = res.Previews
	}
	return out, err
}
