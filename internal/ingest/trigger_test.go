package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyFetcher fails the first n fetches of url with a retryable error.
type flakyFetcher struct {
	Fetcher
	url      string
	failures atomic.Int32
}

func (f *flakyFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	if url == f.url && f.failures.Add(-1) >= 0 {
		return nil, &FetchError{URL: url, StatusCode: 503}
	}
	return f.Fetcher.Fetch(ctx, url)
}

func TestTriggerParams_Validate(t *testing.T) {
	cfg := testConfig(t, "simpler_grants", grantsListURL)
	base := DefaultTriggerParams(cfg)
	require.NoError(t, base.Validate())
	assert.Equal(t, 1, base.PageCount)
	assert.Equal(t, 500, base.ItemCap)
	assert.Equal(t, 1.5, base.ThrottleSeconds)

	tests := []struct {
		name   string
		mutate func(*TriggerParams)
		ok     bool
	}{
		{"max pages", func(p *TriggerParams) { p.PageCount = 25 }, true},
		{"too many pages", func(p *TriggerParams) { p.PageCount = 26 }, false},
		{"zero pages", func(p *TriggerParams) { p.PageCount = 0 }, false},
		{"start page zero", func(p *TriggerParams) { p.StartPage = 0 }, false},
		{"cap too large", func(p *TriggerParams) { p.ItemCap = 501 }, false},
		{"cap zero", func(p *TriggerParams) { p.ItemCap = 0 }, false},
		{"per page default", func(p *TriggerParams) { p.PerPage = 0 }, true},
		{"per page too small", func(p *TriggerParams) { p.PerPage = 4 }, false},
		{"per page max", func(p *TriggerParams) { p.PerPage = 1000 }, true},
		{"per page too large", func(p *TriggerParams) { p.PerPage = 1001 }, false},
		{"throttle max", func(p *TriggerParams) { p.ThrottleSeconds = 5 }, true},
		{"throttle too large", func(p *TriggerParams) { p.ThrottleSeconds = 5.5 }, false},
		{"negative throttle", func(p *TriggerParams) { p.ThrottleSeconds = -1 }, false},
		{"retries too many", func(p *TriggerParams) { p.Retries = 6 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)
		})
	}
}

func TestTrigger_Persisting(t *testing.T) {
	reg := testRegistry(t)
	sink := newMemorySink()
	p := newTestPipeline(grantSite(t), sink)

	params := DefaultTriggerParams(mustConfig(t, reg, "simpler_grants"))
	params.ThrottleSeconds = 0
	params.ItemCap = 2

	res, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	require.NoError(t, err)
	assert.Equal(t, "simpler_grants", res.Source)
	assert.False(t, res.DryRun)
	assert.Equal(t, 2, res.InsertedCount)
	assert.Len(t, res.IDs, 2)
	assert.Zero(t, res.PreviewCount)
	assert.Nil(t, res.Items)
	assert.Equal(t, 1, res.StartPage)
}

func TestTrigger_DryRun(t *testing.T) {
	reg := testRegistry(t)
	f := grantSite(t)
	f.set(grantsListURL+"?query=health", fixture(t, "simpler_listing.html"))
	p := newTestPipeline(f, nil)

	params := DefaultTriggerParams(mustConfig(t, reg, "simpler_grants"))
	params.DryRun = true
	params.ItemCap = 1
	params.Params = map[string]string{"query": "health"}

	res, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.PreviewCount)
	assert.Equal(t, []string{"Rural Health Outreach Program :: https://grants.test/opportunity/1"}, res.Items)
	assert.NotNil(t, res.IDs)
	assert.Empty(t, res.IDs)
	assert.Len(t, f.called(grantsListURL+"?query=health"), 1)
}

func TestTrigger_Errors(t *testing.T) {
	reg := testRegistry(t)
	f := grantSite(t)
	p := newTestPipeline(f, newMemorySink())

	_, err := Trigger(context.Background(), p, reg, "unknown", TriggerParams{PageCount: 1, StartPage: 1, ItemCap: 1})
	assert.True(t, errors.Is(err, ErrUnknownSource))
	assert.Equal(t, KindUnknownSource, ErrorKind(err))

	params := DefaultTriggerParams(mustConfig(t, reg, "simpler_grants"))
	params.PageCount = 30
	res, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	assert.Nil(t, res)
	assert.Equal(t, KindInvalidParams, ErrorKind(err))
	assert.Empty(t, f.called(""))
}

func TestTrigger_RetriesRetryableFetchFailure(t *testing.T) {
	reg := testRegistry(t)
	flaky := &flakyFetcher{Fetcher: grantSite(t), url: grantsListURL}
	flaky.failures.Store(1)
	p := newTestPipeline(flaky, newMemorySink())

	params := DefaultTriggerParams(mustConfig(t, reg, "simpler_grants"))
	params.ThrottleSeconds = 0
	params.ItemCap = 1

	params.Retries = 0
	_, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	require.Error(t, err)
	assert.Equal(t, KindFetchError, ErrorKind(err))

	flaky.failures.Store(1)
	params.Retries = 1
	res, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedCount)
}

func TestTrigger_RetryCountsInsertsFromEveryAttempt(t *testing.T) {
	reg := testRegistry(t)
	site := grantSite(t)
	site.set(grantsListURL+"?page=2", `<table data-testid="table"><tbody>
<tr><td>Mar 1, 2027</td><td>Open</td><td><a href="/opportunity/6">Coastal Resilience</a></td><td>NOAA</td></tr>
<tr><td>Mar 2, 2027</td><td>Open</td><td><a href="/opportunity/7">Tribal Broadband</a></td><td>NTIA</td></tr>
</tbody></table>`)
	site.set("https://grants.test/opportunity/6", grantDetail("Coastal Resilience Fund", "March 1, 2027"))
	site.set("https://grants.test/opportunity/7", grantDetail("Tribal Broadband Connectivity", "March 2, 2027"))
	flaky := &flakyFetcher{Fetcher: site, url: grantsListURL + "?page=2"}
	flaky.failures.Store(1)
	p := newTestPipeline(flaky, newMemorySink())

	params := DefaultTriggerParams(mustConfig(t, reg, "simpler_grants"))
	params.ThrottleSeconds = 0
	params.PageCount = 2
	params.Retries = 1

	res, err := Trigger(context.Background(), p, reg, "simpler_grants", params)
	require.NoError(t, err)
	assert.Equal(t, 7, res.InsertedCount, "five from the failed attempt, two from the retry")
	assert.Len(t, res.IDs, 7)
}

func mustConfig(t *testing.T, reg *Registry, id string) SourceConfig {
	t.Helper()
	cfg, err := reg.Config(id)
	require.NoError(t, err)
	return cfg
}
