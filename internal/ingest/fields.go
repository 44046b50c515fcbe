package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	fieldModeText   = "text"
	fieldModeInline = "inline"
	fieldModePair   = "pair"

	// values read after a label inside a large element stop here
	maxInlineRunes = 200
)

// extractField applies rule inside scope and returns the cleaned value, or ""
// when nothing matched.
func extractField(scope *goquery.Selection, rule FieldRule) string {
	if rule.Selector == "" {
		return ""
	}

	var v string
	switch rule.Mode {
	case fieldModeInline:
		v = inlineValue(scope.Find(rule.Selector), rule.Labels)
	case fieldModePair:
		v = pairValue(scope.Find(rule.Selector), rule.Labels)
	default:
		scope.Find(rule.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if rule.Attr != "" {
				v = CleanText(s.AttrOr(rule.Attr, ""))
			} else {
				v = textOf(s)
			}
			return v == ""
		})
	}

	if rule.CutAt != "" {
		if idx := strings.Index(v, rule.CutAt); idx >= 0 {
			v = v[:idx]
		}
	}
	if rule.Trim != "" {
		v = strings.Trim(v, rule.Trim)
	}
	return CleanText(v)
}

// inlineValue returns the text following "Label:" in the first element that
// carries it. Labels are tried in priority order across all elements.
func inlineValue(sel *goquery.Selection, labels []string) string {
	texts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, textOf(s))
	})
	for _, label := range labels {
		re := labelRe(label)
		for _, t := range texts {
			if loc := re.FindStringIndex(t); loc != nil {
				if rest := strings.TrimSpace(t[loc[1]:]); rest != "" {
					return truncateRunes(rest, maxInlineRunes)
				}
			}
		}
	}
	return ""
}

// pairValue finds the first heading whose text contains a label and returns
// the text of its next <p> sibling.
func pairValue(headings *goquery.Selection, labels []string) string {
	var v string
	headings.EachWithBreak(func(_ int, h *goquery.Selection) bool {
		text := strings.ToLower(textOf(h))
		for _, label := range labels {
			if strings.Contains(text, strings.ToLower(label)) {
				v = textOf(h.NextAllFiltered("p").First())
				return false
			}
		}
		return true
	})
	return v
}

func labelRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*:\s*`)
}
