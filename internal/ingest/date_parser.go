package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DatePattern names one of the calendar date shapes a source may declare.
type DatePattern string

const (
	PatternMonthDayYear DatePattern = "mon_d_yyyy" // Oct 31, 2025 / October 31st 2025
	PatternDayMonthYear DatePattern = "d_mon_yyyy" // 31 October 2025
	PatternNumeric      DatePattern = "mm_dd_yyyy" // 10/31/2025
	PatternMonthDay     DatePattern = "mon_d"      // Oct 31
	PatternDayMonth     DatePattern = "d_mon"      // 31 Oct
)

// DefaultDatePatterns is used when a source does not list its own.
var DefaultDatePatterns = []DatePattern{
	PatternMonthDayYear,
	PatternDayMonthYear,
	PatternNumeric,
	PatternMonthDay,
	PatternDayMonth,
}

const monthExpr = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`

var (
	noFixedDeadlineRe = regexp.MustCompile(`(?i)\b(varies|open|ongoing|rolling|until\s+filled)\b`)
	deadlinePrefixRe  = regexp.MustCompile(`(?is)^.*?deadline\s*:`)

	datePatternRes = map[DatePattern]*regexp.Regexp{
		PatternMonthDayYear: regexp.MustCompile(`(?i)\b` + monthExpr + `\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		PatternDayMonthYear: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthExpr + `,?\s+(\d{4})\b`),
		PatternNumeric:      regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`),
		PatternMonthDay:     regexp.MustCompile(`(?i)\b` + monthExpr + `\s+(\d{1,2})(?:st|nd|rd|th)?\b`),
		PatternDayMonth:     regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthExpr + `\b`),
	}

	monthsByPrefix = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// IsNoFixedDeadline reports whether s uses the vocabulary for deadlines that
// have no calendar date ("rolling", "until filled", ...).
func IsNoFixedDeadline(s string) bool {
	return noFixedDeadlineRe.MatchString(s)
}

// ParseCalendarDate extracts the first date in s matching one of patterns,
// tried in order. The vocabulary check runs before any pattern, so
// "Rolling (review begins Oct 1, 2025)" yields nil. Dates without a year
// resolve to their next occurrence on or after now. The result is midnight UTC.
func ParseCalendarDate(s string, patterns []DatePattern, now time.Time) *time.Time {
	s = CleanText(s)
	if s == "" || IsNoFixedDeadline(s) {
		return nil
	}
	return findCalendarDate(s, patterns, now)
}

// findCalendarDate is ParseCalendarDate without the vocabulary check, for
// posted and updated dates.
func findCalendarDate(s string, patterns []DatePattern, now time.Time) *time.Time {
	s = strings.TrimSpace(deadlinePrefixRe.ReplaceAllString(CleanText(s), ""))
	if len(patterns) == 0 {
		patterns = DefaultDatePatterns
	}

	for _, p := range patterns {
		re, ok := datePatternRes[p]
		if !ok {
			continue
		}
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}

		var (
			month     time.Month
			day, year int
			hasYear   = true
			convErr   error
		)
		switch p {
		case PatternMonthDayYear:
			month = monthFromName(m[1])
			day, _ = strconv.Atoi(m[2])
			year, convErr = strconv.Atoi(m[3])
		case PatternDayMonthYear:
			day, _ = strconv.Atoi(m[1])
			month = monthFromName(m[2])
			year, convErr = strconv.Atoi(m[3])
		case PatternNumeric:
			mm, _ := strconv.Atoi(m[1])
			month = time.Month(mm)
			day, _ = strconv.Atoi(m[2])
			year, convErr = strconv.Atoi(m[3])
		case PatternMonthDay:
			month = monthFromName(m[1])
			day, _ = strconv.Atoi(m[2])
			hasYear = false
		case PatternDayMonth:
			day, _ = strconv.Atoi(m[1])
			month = monthFromName(m[2])
			hasYear = false
		}
		if convErr != nil {
			return nil
		}

		if !hasYear {
			return nextOccurrence(month, day, now)
		}
		return calendarDate(year, month, day)
	}
	return nil
}

func monthFromName(name string) time.Month {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return 0
	}
	return monthsByPrefix[name[:3]]
}

// calendarDate returns nil for impossible dates such as Feb 30 instead of
// letting time.Date roll them into the next month.
func calendarDate(year int, month time.Month, day int) *time.Time {
	if month < time.January || month > time.December || day < 1 {
		return nil
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return nil
	}
	return &t
}

// nextOccurrence resolves a year-less month/day to the nearest date on or after
// today. Feb 29 moves forward to the next leap year.
func nextOccurrence(month time.Month, day int, now time.Time) *time.Time {
	if calendarDate(2000, month, day) == nil {
		return nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for year := now.Year(); year <= now.Year()+8; year++ {
		t := calendarDate(year, month, day)
		if t != nil && !t.Before(today) {
			return t
		}
	}
	return nil
}
