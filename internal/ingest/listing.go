package ingest

import (
	"bytes"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ParseListing extracts candidate items from one listing page in page order.
// Rows without a resolvable link are dropped and repeated detail URLs keep
// their first occurrence. When the row pass yields nothing and FallbackLink is
// set, every matching link on the page becomes an item.
func ParseListing(body []byte, pageURL string, rules ListingRules, patterns []DatePattern, now time.Time) []ListingItem {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var items []ListingItem
	add := func(item ListingItem) {
		if item.DetailURL == "" || seen[item.DetailURL] {
			return
		}
		seen[item.DetailURL] = true
		items = append(items, item)
	}

	if rules.Row != "" && rules.Link != "" {
		doc.Find(rules.Row).Each(func(_ int, row *goquery.Selection) {
			if rules.MinCells > 0 && row.ChildrenFiltered("td").Length() < rules.MinCells {
				return
			}
			link := row.Find(rules.Link).First()
			if link.Length() == 0 {
				return
			}
			item := ListingItem{
				Title:     firstNonEmpty(extractField(row, rules.Title), textOf(link)),
				DetailURL: resolveURL(pageURL, link.AttrOr("href", "")),
				Provider:  extractField(row, rules.Provider),
			}
			if raw := extractField(row, rules.CloseDate); raw != "" {
				item.CloseDate = ParseCalendarDate(raw, patterns, now)
			}
			if raw := extractField(row, rules.PostedAt); raw != "" {
				item.PostedAt = findCalendarDate(raw, patterns, now)
			}
			add(item)
		})
	}

	if len(items) == 0 && rules.FallbackLink != "" {
		doc.Find(rules.FallbackLink).Each(func(_ int, link *goquery.Selection) {
			add(ListingItem{
				Title:     textOf(link),
				DetailURL: resolveURL(pageURL, link.AttrOr("href", "")),
			})
		})
	}

	return items
}
