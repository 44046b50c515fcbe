package ingest

import (
	"bytes"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const (
	paginationQueryParam = "query_param"
	paginationLink       = "link"
)

// RuleSource is a Source driven entirely by its registry entry.
type RuleSource struct {
	cfg SourceConfig
}

// NewRuleSource builds a RuleSource after checking its pagination settings.
func NewRuleSource(cfg SourceConfig) (Source, error) {
	switch cfg.Pagination.Mode {
	case paginationQueryParam:
		if cfg.Pagination.Param == "" {
			return nil, eris.Errorf("source %q: query_param pagination needs a param", cfg.ID)
		}
	case paginationLink:
		if cfg.Pagination.Active == "" && cfg.Pagination.Fallback == "" {
			return nil, eris.Errorf("source %q: link pagination needs active or fallback selector", cfg.ID)
		}
	default:
		return nil, eris.Errorf("source %q: unknown pagination mode %q", cfg.ID, cfg.Pagination.Mode)
	}
	if _, err := url.Parse(cfg.ListURL); err != nil {
		return nil, eris.Wrapf(err, "source %q: list_url", cfg.ID)
	}
	return &RuleSource{cfg: cfg}, nil
}

func (s *RuleSource) Config() SourceConfig { return s.cfg }

// ListURL builds the listing URL for req. Request params override the
// source's list_params.
func (s *RuleSource) ListURL(req PageRequest) string {
	u, err := url.Parse(s.cfg.ListURL)
	if err != nil {
		return s.cfg.ListURL
	}
	q := u.Query()
	for k, v := range s.cfg.ListParams {
		q.Set(k, v)
	}
	for k, v := range req.Params {
		q.Set(k, v)
	}

	p := s.cfg.Pagination
	if p.Param != "" {
		if req.Page > 1 || !p.FirstPageBare {
			q.Set(p.Param, strconv.Itoa(max(req.Page, 1)))
		}
	}
	if p.PerPageParam != "" && req.PerPage > 0 {
		q.Set(p.PerPageParam, strconv.Itoa(req.PerPage))
	}

	u.RawQuery = q.Encode()
	return u.String()
}

func (s *RuleSource) ParseListing(body []byte, pageURL string, now time.Time) []ListingItem {
	return ParseListing(body, pageURL, s.cfg.Listing, s.cfg.Patterns(), now)
}

func (s *RuleSource) ParseDetail(body []byte, pageURL string, now time.Time) DetailFields {
	return ParseDetail(body, pageURL, s.cfg.Detail, s.cfg.Patterns(), now)
}

func (s *RuleSource) NextPage(body []byte, pageURL string, req PageRequest) (string, bool) {
	p := s.cfg.Pagination
	if p.Mode == paginationQueryParam {
		next := req
		next.Page = req.Page + 1
		return s.ListURL(next), true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	var href string
	if p.Active != "" {
		link := p.Link
		if link == "" {
			link = "a[href]"
		}
		href = doc.Find(p.Active).First().NextFiltered("li").Find(link).First().AttrOr("href", "")
	}
	if href == "" && p.Fallback != "" {
		href = doc.Find(p.Fallback).First().AttrOr("href", "")
	}

	next := resolveURL(pageURL, href)
	if next == "" || CanonicalizeURL(next) == CanonicalizeURL(pageURL) {
		return "", false
	}
	return next, true
}
