package ingest

import (
	"time"

	"github.com/rotisserie/eris"
)

// PageRequest identifies one listing page of a run.
type PageRequest struct {
	Page    int
	PerPage int
	Params  map[string]string
}

// Source is the extraction capability a registered site provides.
// All parse methods are total: malformed markup yields empty results, never errors.
type Source interface {
	Config() SourceConfig
	ListURL(req PageRequest) string
	ParseListing(body []byte, pageURL string, now time.Time) []ListingItem
	ParseDetail(body []byte, pageURL string, now time.Time) DetailFields
	// NextPage returns the URL of the page after req, or false when there is none.
	NextPage(body []byte, pageURL string, req PageRequest) (string, bool)
}

// StrategyBuilder creates a Source from its registry entry.
type StrategyBuilder func(cfg SourceConfig) (Source, error)

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	builders map[string]StrategyBuilder
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		builders: make(map[string]StrategyBuilder),
	}
}

func (f *StrategyFactory) Register(id string, b StrategyBuilder) {
	f.builders[id] = b
}

func (f *StrategyFactory) Build(cfg SourceConfig) (Source, error) {
	b, ok := f.builders[cfg.Strategy]
	if !ok {
		return nil, eris.Errorf("strategy %q not found for source %q", cfg.Strategy, cfg.ID)
	}
	return b(cfg)
}

// Global factory instance
var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register("html_rules", NewRuleSource)
}
