package ingest

import (
	"context"
	"io"
	"time"

	"github.com/granthub/granthub/internal/models"
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// ListingItem is one candidate row from a listing page. CloseDate, Provider and
// PostedAt are fallbacks used when the detail page lacks them.
type ListingItem struct {
	Title     string
	DetailURL string
	CloseDate *time.Time
	Provider  string
	PostedAt  *time.Time
}

// DetailFields is what a detail page yielded. Empty strings and nil dates mean
// the field was not found.
type DetailFields struct {
	Title        string
	Description  string
	Deadline     *time.Time
	DeadlineText string
	Provider     string
	PostedAt     *time.Time
	Country      string
	Level        string
	ImageURL     string
	Duration     string
	Paid         *bool
}

// Record is a merged, normalized opportunity ready for the sink.
type Record struct {
	Kind         models.Kind
	Title        string
	Description  string
	SourceURL    string
	Deadline     *time.Time
	DeadlineText string
	PublishedAt  *time.Time
	Country      string
	Region       string
	Language     string
	Provider     string
	ImageURL     string
	Level        string
	Duration     string
	Paid         *bool
}

// Preview is the dry-run rendering of a record.
func (r Record) Preview() string {
	return r.Title + " :: " + r.SourceURL
}

func (r Record) base() models.Opportunity {
	return models.Opportunity{
		Title:       r.Title,
		Description: r.Description,
		SourceURL:   r.SourceURL,
		Deadline:    r.Deadline,
		PublishedAt: r.PublishedAt,
		Country:     r.Country,
		Region:      r.Region,
		Language:    r.Language,
		Provider:    r.Provider,
		ImageURL:    r.ImageURL,
	}
}

func (r Record) Grant() *models.Grant {
	return &models.Grant{Opportunity: r.base()}
}

func (r Record) Scholarship() *models.Scholarship {
	return &models.Scholarship{Opportunity: r.base(), Level: r.Level, DeadlineText: r.DeadlineText}
}

func (r Record) Internship() *models.Internship {
	return &models.Internship{Opportunity: r.base(), Duration: r.Duration, Paid: r.Paid}
}
