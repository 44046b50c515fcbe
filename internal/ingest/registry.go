package ingest

import (
	"embed"
	"os"

	"github.com/granthub/granthub/internal/models"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"` // Default: 40
	AcceptLanguage string `yaml:"accept_language,omitempty"`
	ItemDelayMS    int    `yaml:"item_delay_ms,omitempty"` // pause between detail fetches
	Concurrency    int    `yaml:"concurrency,omitempty"`   // detail fetches in flight per page
}

// RunDefaults are the trigger parameters used when a caller does not set them.
type RunDefaults struct {
	PageCount       int     `yaml:"page_count"`
	StartPage       int     `yaml:"start_page"`
	ItemCap         int     `yaml:"item_cap"`
	PerPage         int     `yaml:"per_page"`
	ThrottleSeconds float64 `yaml:"throttle_seconds"`
	SkipStale       bool    `yaml:"skip_stale"`
}

// RecordDefaults fill fields no page provided.
type RecordDefaults struct {
	Provider string `yaml:"provider"`
	Country  string `yaml:"country,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Language string `yaml:"language,omitempty"`
}

// SourceConfig defines a single data source for ingestion.
type SourceConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Kind         models.Kind       `yaml:"kind"`
	Strategy     string            `yaml:"strategy"`
	BaseURL      string            `yaml:"base_url"`
	ListURL      string            `yaml:"list_url"`
	ListParams   map[string]string `yaml:"list_params,omitempty"`
	DatePatterns []DatePattern     `yaml:"date_patterns,omitempty"`
	Description  string            `yaml:"description,omitempty"`

	Fetch      FetchConfig      `yaml:"fetch,omitempty"`
	Run        RunDefaults      `yaml:"run"`
	Defaults   RecordDefaults   `yaml:"defaults"`
	Listing    ListingRules     `yaml:"listing"`
	Detail     DetailRules      `yaml:"detail"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// Patterns returns the source's date patterns or the defaults.
func (c SourceConfig) Patterns() []DatePattern {
	if len(c.DatePatterns) == 0 {
		return DefaultDatePatterns
	}
	return c.DatePatterns
}

// FieldRule locates one text value on a page.
//
// Modes:
//   - text: text (or Attr) of the first non-empty element matching Selector.
//   - inline: within elements matching Selector, the text after "Label:" for
//     the first label that appears.
//   - pair: the first heading matching Selector whose text contains a label;
//     the value is its next sibling <p>.
type FieldRule struct {
	Selector string   `yaml:"selector"`
	Mode     string   `yaml:"mode,omitempty"`
	Labels   []string `yaml:"labels,omitempty"`
	Attr     string   `yaml:"attr,omitempty"`
	CutAt    string   `yaml:"cut_at,omitempty"` // keep only the text before this marker
	Trim     string   `yaml:"trim,omitempty"`   // cutset trimmed from both ends
}

// ListingRules describe how candidate rows are found on a listing page.
type ListingRules struct {
	Row          string    `yaml:"row"`
	MinCells     int       `yaml:"min_cells,omitempty"`
	Link         string    `yaml:"link"`
	FallbackLink string    `yaml:"fallback_link,omitempty"`
	Title        FieldRule `yaml:"title,omitempty"`
	CloseDate    FieldRule `yaml:"close_date,omitempty"`
	Provider     FieldRule `yaml:"provider,omitempty"`
	PostedAt     FieldRule `yaml:"posted_at,omitempty"`
}

// DescriptionRule extracts the description body.
//
// In "sections" mode the text between a Heading whose text equals one of
// Sections and the next Heading is collected. In "blocks" mode the direct
// children of Container are joined, skipping headings and Skip matches.
type DescriptionRule struct {
	Mode       string   `yaml:"mode"`
	Container  string   `yaml:"container"`
	Heading    string   `yaml:"heading,omitempty"`
	Sections   []string `yaml:"sections,omitempty"`
	Skip       []string `yaml:"skip,omitempty"`
	TrimSuffix string   `yaml:"trim_suffix,omitempty"`
}

// DetailRules describe how fields are pulled from a detail page.
type DetailRules struct {
	Title       []string        `yaml:"title"`
	Description DescriptionRule `yaml:"description"`
	Deadline    FieldRule       `yaml:"deadline,omitempty"`
	Provider    FieldRule       `yaml:"provider,omitempty"`
	PostedAt    FieldRule       `yaml:"posted_at,omitempty"`
	Country     FieldRule       `yaml:"country,omitempty"`
	Image       FieldRule       `yaml:"image,omitempty"`
	Duration    FieldRule       `yaml:"duration,omitempty"`
	Paid        FieldRule       `yaml:"paid,omitempty"`
	InferLevel  bool            `yaml:"infer_level,omitempty"`
}

// PaginationConfig selects how the next listing page is discovered.
//
// "query_param" increments Param on ListURL. "link" follows the link inside
// the sibling after the Active marker, falling back to Fallback.
type PaginationConfig struct {
	Mode          string `yaml:"mode"`
	Param         string `yaml:"param,omitempty"`
	PerPageParam  string `yaml:"per_page_param,omitempty"`
	FirstPageBare bool   `yaml:"first_page_bare,omitempty"`
	Active        string `yaml:"active,omitempty"`
	Link          string `yaml:"link,omitempty"`
	Fallback      string `yaml:"fallback,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml, or path when it is set.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	}
	if err != nil {
		return nil, eris.Wrap(err, "registry: read sources")
	}

	// Expand environment variables within the YAML content (e.g. ${SCHOLARSHIP_DETAILS})
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, eris.Wrap(err, "registry: parse sources")
	}

	for i := range reg.Sources {
		if err := reg.Sources[i].validate(); err != nil {
			return nil, err
		}
	}
	return &reg, nil
}

// Config returns the configuration for id.
func (r *Registry) Config(id string) (SourceConfig, error) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, nil
		}
	}
	return SourceConfig{}, eris.Wrapf(ErrUnknownSource, "source %q", id)
}

// Source builds the extraction strategy for id.
func (r *Registry) Source(id string) (Source, error) {
	cfg, err := r.Config(id)
	if err != nil {
		return nil, err
	}
	return GlobalStrategyFactory.Build(cfg)
}

// IDs lists the registered source ids in file order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Sources))
	for _, src := range r.Sources {
		ids = append(ids, src.ID)
	}
	return ids
}

func (c SourceConfig) validate() error {
	switch {
	case c.ID == "":
		return eris.New("registry: source without id")
	case !c.Kind.Valid():
		return eris.Errorf("registry: source %q has unknown kind %q", c.ID, c.Kind)
	case c.ListURL == "":
		return eris.Errorf("registry: source %q has no list_url", c.ID)
	case c.Listing.Link == "" && c.Listing.FallbackLink == "":
		return eris.Errorf("registry: source %q has no listing link selector", c.ID)
	}
	for _, p := range c.DatePatterns {
		if _, ok := datePatternRes[p]; !ok {
			return eris.Errorf("registry: source %q has unknown date pattern %q", c.ID, p)
		}
	}
	return nil
}
