package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/granthub/granthub/internal/db"
	"github.com/granthub/granthub/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2025, time.November, 1, 12, 0, 0, 0, time.UTC)

const (
	grantsListURL       = "https://grants.test/search"
	scholarshipsListURL = "https://scholarships.test/scholarships"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

// testConfig returns the embedded registry entry for id pointed at listURL.
func testConfig(t *testing.T, id, listURL string) SourceConfig {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	cfg, err := reg.Config(id)
	require.NoError(t, err)
	cfg.ListURL = listURL
	cfg.ListParams = nil
	cfg.Fetch.ItemDelayMS = 0
	return cfg
}

func testSource(t *testing.T, id, listURL string) Source {
	t.Helper()
	src, err := NewRuleSource(testConfig(t, id, listURL))
	require.NoError(t, err)
	return src
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	for i := range reg.Sources {
		switch reg.Sources[i].ID {
		case "simpler_grants":
			reg.Sources[i].ListURL = grantsListURL
		case "intl_scholarships":
			reg.Sources[i].ListURL = scholarshipsListURL
		}
		reg.Sources[i].ListParams = nil
		reg.Sources[i].Fetch.ItemDelayMS = 0
	}
	return reg
}

func grantDetail(title, closing string) string {
	return `<html><body><h1>` + title + `</h1>
<div data-testid="opportunity-status-widget"><p>Closing: ` + closing + `</p></div>
<div data-testid="opportunity-description"><p>About ` + title + `.</p></div>
</body></html>`
}

// fakeFetcher serves canned bodies by exact URL. Unknown URLs answer 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	err := f.fail[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &FetchError{URL: url, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &FetchError{URL: url, StatusCode: 404}
	}
	return &FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
		FetchedAt:  time.Now(),
	}, nil
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *fakeFetcher) failWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = err
}

func (f *fakeFetcher) called(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// memorySink keeps records in maps keyed by (title, source_url).
type memorySink struct {
	mu           sync.Mutex
	ids          map[string]uuid.UUID
	grants       map[string]*models.Grant
	scholarships map[string]*models.Scholarship
	failTitles   map[string]error
}

func newMemorySink() *memorySink {
	return &memorySink{
		ids:          map[string]uuid.UUID{},
		grants:       map[string]*models.Grant{},
		scholarships: map[string]*models.Scholarship{},
		failTitles:   map[string]error{},
	}
}

func (s *memorySink) upsert(o *models.Opportunity) (uuid.UUID, bool, error) {
	if err := s.failTitles[o.Title]; err != nil {
		return uuid.Nil, false, err
	}
	key := o.Title + "\x00" + o.SourceURL
	if id, ok := s.ids[key]; ok {
		o.ID = id
		return id, false, nil
	}
	id := uuid.New()
	s.ids[key] = id
	o.ID = id
	return id, true, nil
}

func (s *memorySink) UpsertGrant(_ context.Context, g *models.Grant) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, created, err := s.upsert(&g.Opportunity)
	if created {
		s.grants[g.SourceURL] = g
	}
	return id, created, err
}

func (s *memorySink) UpsertScholarship(_ context.Context, sc *models.Scholarship) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, created, err := s.upsert(&sc.Opportunity)
	if created {
		s.scholarships[sc.SourceURL] = sc
	}
	return id, created, err
}

func (s *memorySink) UpsertInternship(_ context.Context, in *models.Internship) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(&in.Opportunity)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []db.RunSummary
	startErr error
}

func (r *fakeRecorder) StartRun(_ context.Context, sourceID string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return uuid.Nil, r.startErr
	}
	r.started = append(r.started, sourceID)
	return uuid.New(), nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ uuid.UUID, sum db.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, sum)
	return nil
}

func newTestPipeline(f Fetcher, sink Sink) *Pipeline {
	p := NewPipeline(f, sink, zap.NewNop())
	p.Now = func() time.Time { return testNow }
	return p
}
