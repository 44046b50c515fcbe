package ingest

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
)

const (
	descModeSections = "sections"
	descModeBlocks   = "blocks"
)

// ParseDetail extracts the fields of one detail page. Every field degrades
// independently to its zero value when the page lacks it.
func ParseDetail(body []byte, pageURL string, rules DetailRules, patterns []DatePattern, now time.Time) DetailFields {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return DetailFields{}
	}
	root := doc.Selection

	var f DetailFields
	for _, sel := range rules.Title {
		if f.Title = textOf(root.Find(sel).First()); f.Title != "" {
			break
		}
	}

	f.Description = extractDescription(root, rules.Description)

	if raw := extractField(root, rules.Deadline); raw != "" {
		f.Deadline = ParseCalendarDate(raw, patterns, now)
		if f.Deadline == nil {
			f.DeadlineText = raw
		}
	}
	if raw := extractField(root, rules.PostedAt); raw != "" {
		f.PostedAt = findCalendarDate(raw, patterns, now)
	}

	f.Provider = extractField(root, rules.Provider)
	f.Country = normalizeCountry(extractField(root, rules.Country))
	f.Duration = extractField(root, rules.Duration)
	f.Paid = parsePaid(extractField(root, rules.Paid))
	if img := extractField(root, rules.Image); img != "" {
		f.ImageURL = resolveURL(pageURL, img)
	}

	if rules.InferLevel {
		f.Level = InferLevel(f.Title + " " + f.Description)
	}
	return f
}

func extractDescription(root *goquery.Selection, rule DescriptionRule) string {
	if rule.Container == "" {
		return ""
	}
	container := root.Find(rule.Container).First()
	if container.Length() == 0 {
		return ""
	}

	var out string
	switch rule.Mode {
	case descModeSections:
		out = sectionText(container, rule)
	case descModeBlocks:
		out = blockText(container, rule)
	default:
		out = textOf(container)
	}

	if rule.TrimSuffix != "" {
		out = strings.TrimSpace(strings.TrimSuffix(out, rule.TrimSuffix))
	}
	return out
}

// sectionText collects the content strictly between each named heading and the
// next heading of the same tag. Several found sections are labelled and joined
// with newlines.
func sectionText(container *goquery.Selection, rule DescriptionRule) string {
	heading := rule.Heading
	if heading == "" {
		heading = "h2"
	}

	found := make(map[string]string)
	container.Find(heading).Each(func(_ int, h *goquery.Selection) {
		name := strings.TrimSuffix(textOf(h), ":")
		for _, want := range rule.Sections {
			if !strings.EqualFold(strings.TrimSpace(name), want) {
				continue
			}
			if _, dup := found[want]; dup {
				return
			}
			if text := sectionBody(h.Nodes[0]); text != "" {
				found[want] = text
			}
			return
		}
	})

	if len(found) == 1 {
		for _, text := range found {
			return text
		}
	}
	var parts []string
	for _, name := range rule.Sections {
		if text, ok := found[name]; ok {
			parts = append(parts, name+": "+text)
		}
	}
	return strings.Join(parts, "\n")
}

// sectionBody reads every sibling after h, bare text included, up to the next
// element with the same tag as h.
func sectionBody(h *nethtml.Node) string {
	var nodes []*nethtml.Node
	for n := h.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == nethtml.ElementNode && n.Data == h.Data {
			break
		}
		nodes = append(nodes, n)
	}
	return nodesText(nodes)
}

// blockText joins the direct children of container with blank lines, skipping
// headings and anything matching rule.Skip.
func blockText(container *goquery.Selection, rule DescriptionRule) string {
	var blocks []string
	container.Children().Each(func(_ int, child *goquery.Selection) {
		if child.Is("h1, h2, h3") || child.Find("h2").Length() > 0 {
			return
		}
		for _, skip := range rule.Skip {
			if child.Is(skip) {
				return
			}
		}
		if text := textOf(child); text != "" {
			blocks = append(blocks, text)
		}
	})
	return strings.Join(blocks, "\n\n")
}

func parsePaid(s string) *bool {
	lower := strings.ToLower(s)
	var v bool
	switch {
	case lower == "":
		return nil
	case strings.Contains(lower, "unpaid"), strings.Contains(lower, "volunteer"):
		v = false
	case strings.Contains(lower, "paid"), strings.Contains(lower, "stipend"), strings.Contains(lower, "salary"):
		v = true
	default:
		return nil
	}
	return &v
}
