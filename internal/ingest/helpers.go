package ingest

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText collapses every whitespace run (including NBSP) into one space and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup removes any tags left in scraped text, decodes entities and
// applies NFC normalization. Line breaks are kept so labelled sections survive.
func StripMarkup(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strictPolicy.Sanitize(line)
		line = html.UnescapeString(line)
		lines[i] = CleanText(norm.NFC.String(line))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// textOf returns the visible text of a selection with a space between text
// nodes, so "<p>a</p><p>b</p>" reads as "a b" instead of "ab".
func textOf(sel *goquery.Selection) string {
	return nodesText(sel.Nodes)
}

// nodesText is textOf over raw nodes, text nodes included.
func nodesText(nodes []*nethtml.Node) string {
	var b strings.Builder
	var walk func(n *nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch n.Type {
		case nethtml.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case nethtml.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return CleanText(b.String())
}

// resolveURL makes href absolute against base. Empty, fragment-only and
// javascript: links resolve to "".
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	abs := b.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}

// CanonicalizeURL removes common tracking parameters to ensure stable URLs.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid"} {
		q.Del(p)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
