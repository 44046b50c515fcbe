package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Level inference and the stale-year check are best-effort heuristics over
// free text. Callers treat their output as a hint, not a classification.

var levelKeywords = []struct {
	level    string
	keywords []string
}{
	{"phd", []string{"phd", "doctoral"}},
	{"master", []string{"master", "graduate"}},
	{"bachelor", []string{"bachelor", "undergraduate"}},
}

var (
	titleYearRe    = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	unrestrictedRe = regexp.MustCompile(`(?i)\bunrestricted\b`)
)

// InferLevel returns the study levels mentioned in text, comma-joined in
// phd, master, bachelor order, or "" when none match. Matching is by
// substring, so "undergraduate" also counts as "graduate".
func InferLevel(text string) string {
	lower := strings.ToLower(text)
	var found []string
	for _, lk := range levelKeywords {
		for _, kw := range lk.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, lk.level)
				break
			}
		}
	}
	return strings.Join(found, ", ")
}

// TitleYears returns every 4-digit 19xx/20xx year in title.
func TitleYears(title string) []int {
	var years []int
	for _, m := range titleYearRe.FindAllStringSubmatch(title, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil {
			years = append(years, y)
		}
	}
	return years
}

// IsStaleTitle reports whether the latest year in title is before now's year.
// Titles without a year are never stale; a range like "2022-2026" is kept
// because its maximum year governs.
func IsStaleTitle(title string, now time.Time) bool {
	years := TitleYears(title)
	if len(years) == 0 {
		return false
	}
	latest := years[0]
	for _, y := range years[1:] {
		if y > latest {
			latest = y
		}
	}
	return latest < now.Year()
}

// normalizeCountry maps "no restriction" values to "" and cleans the rest.
func normalizeCountry(s string) string {
	s = CleanText(s)
	if unrestrictedRe.MatchString(s) {
		return ""
	}
	return s
}
