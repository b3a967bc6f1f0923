// Package dateparse deterministically converts a natural-language date
// phrase into a start/end range plus table-specific string encodings. It
// never calls out to an LLM; every rule below is a direct reproduction of
// the phrase grammar the rest of the system depends on, so results are
// reproducible and testable without a network call.
package dateparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Operation is the comparison the parsed range implies.
type Operation string

const (
	Between     Operation = "between"
	GreaterThan Operation = "greater_than"
	LessThan    Operation = "less_than"
	Equals      Operation = "equals"
)

// Context carries the hints the router passes in: which table the
// filter will run against and whether the caller is archiving or
// deleting, neither of which changes parsing but both of which flow
// through to the caller's own safety checks.
type Context struct {
	Table     string
	Operation string // "archive" | "delete" | ""
}

// Formats holds the same {operation, start, end} triple encoded for each
// consumer: the fixed-width activity/transaction string columns, the
// native-datetime job_logs columns, and two generic variants.
type Formats struct {
	ActivitiesTransactions Range
	JobLogs                Range
	GenericDatetime        Range
	DateOnly               Range
}

// Range is one {operation, start, end} triple in a particular encoding.
// Start/End are empty when the operation does not need them.
type Range struct {
	Operation Operation
	Start     string
	End       string
}

// Result is the parser's full output for one phrase.
type Result struct {
	Success     bool
	Operation   Operation
	StartDate   time.Time
	EndDate     time.Time
	Description string
	Confidence  float64
	Formats     Formats
	Assumptions []string
	Error       string
}

const dateLayout = "20060102150405"

var (
	reOlderThan   = regexp.MustCompile(`(?i)older than\s+(\d+)\s*(day|month|year)s?`)
	reLastN       = regexp.MustCompile(`(?i)last\s+(\d+)\s*(day|month|year)s?`)
	reMonthYear   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b(?:\s+(\d{4}))?`)
	reQuarter     = regexp.MustCompile(`(?i)\bq([1-4])\s*(\d{4})\b`)
	reFromTo      = regexp.MustCompile(`(?i)from\s+(.+?)\s+to\s+(.+)`)
	reBetween     = regexp.MustCompile(`(?i)between\s+(.+?)\s+and\s+(.+)`)
	reYesterday   = regexp.MustCompile(`(?i)\byesterday\b`)
	reToday       = regexp.MustCompile(`(?i)\btoday\b`)
	reRecent      = regexp.MustCompile(`(?i)\b(recent|latest)\b`)
	reOldData     = regexp.MustCompile(`(?i)\bold data\b`)
	reHolidaySeas = regexp.MustCompile(`(?i)\bholiday season\b`)
	reBareDate    = regexp.MustCompile(`(?i)^\s*(\d{4})-(\d{2})-(\d{2})\s*$`)

	months = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
)

// Parse converts phrase into a Result, anchored at now. Context is
// presently informational only (it does not change the parse rules) but
// is accepted so callers can pass it through to post-parse safety checks
// without a second code path.
func Parse(phrase string, _ Context, now time.Time) Result {
	p := strings.TrimSpace(phrase)
	if p == "" {
		return fail("empty date phrase")
	}

	if m := reOlderThan.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		end := subUnit(now, m[2], n)
		return success(LessThan, time.Time{}, endOfDay(end), fmt.Sprintf("older than %d %s(s)", n, m[2]), 1.0, nil)
	}

	if m := reLastN.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		start := subUnit(now, m[2], n)
		return success(GreaterThan, startOfDay(start), time.Time{}, fmt.Sprintf("last %d %s(s)", n, m[2]), 1.0, nil)
	}

	if m := reQuarter.FindStringSubmatch(p); m != nil {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		startMonth := time.Month((q-1)*3 + 1)
		start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 3, 0).Add(-time.Second)
		return success(Between, start, end, fmt.Sprintf("Q%d %d", q, year), 1.0, nil)
	}

	if m := reMonthYear.FindStringSubmatch(p); m != nil {
		monthName := strings.ToLower(m[1])
		month := months[monthName]
		assumptions := []string(nil)
		year := now.Year()
		confidence := 1.0
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		} else {
			assumptions = append(assumptions, fmt.Sprintf("assumed current year %d for bare month %q", year, monthName))
			confidence = 0.7
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0).Add(-time.Second)
		return success(Between, start, end, fmt.Sprintf("%s %d", strings.Title(monthName), year), confidence, assumptions)
	}

	if m := reFromTo.FindStringSubmatch(p); m != nil {
		return parseRange(m[1], m[2], now)
	}
	if m := reBetween.FindStringSubmatch(p); m != nil {
		return parseRange(m[1], m[2], now)
	}

	if reYesterday.MatchString(p) {
		y := now.AddDate(0, 0, -1)
		return success(Between, startOfDay(y), endOfDay(y), "yesterday", 1.0, nil)
	}
	if reToday.MatchString(p) {
		return success(Between, startOfDay(now), endOfDay(now), "today", 1.0, nil)
	}

	if reRecent.MatchString(p) {
		start := now.AddDate(0, 0, -7)
		return success(GreaterThan, startOfDay(start), time.Time{}, "recent (last 7 days)", 0.5,
			[]string{"\"recent/latest\" assumed to mean the last 7 days"})
	}
	if reOldData.MatchString(p) {
		end := now.AddDate(-1, 0, 0)
		return success(LessThan, time.Time{}, endOfDay(end), "old data (older than one year)", 0.5,
			[]string{"\"old data\" assumed to mean older than one year"})
	}
	if reHolidaySeas.MatchString(p) {
		year := now.Year()
		start := time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(year+1, time.January, 7, 23, 59, 59, 0, time.UTC)
		return success(Between, start, end, "holiday season (Dec 1 - Jan 7)", 0.5,
			[]string{"\"holiday season\" assumed to mean Dec 1 through Jan 7"})
	}

	if m := reBareDate.FindStringSubmatch(p); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return success(Between, startOfDay(d), endOfDay(d), p, 1.0, nil)
	}

	return fail(fmt.Sprintf("could not parse date phrase %q", phrase))
}

func parseRange(rawStart, rawEnd string, now time.Time) Result {
	start := Parse(rawStart, Context{}, now)
	end := Parse(rawEnd, Context{}, now)
	if !start.Success || !end.Success {
		return fail(fmt.Sprintf("could not parse range %q to %q", rawStart, rawEnd))
	}
	s := start.StartDate
	if s.IsZero() {
		s = start.EndDate
	}
	e := end.EndDate
	if e.IsZero() {
		e = end.StartDate
	}
	assumptions := append(append([]string(nil), start.Assumptions...), end.Assumptions...)
	confidence := 1.0
	if len(assumptions) > 0 {
		confidence = 0.7
	}
	return success(Between, startOfDay(s), endOfDay(e), fmt.Sprintf("%s to %s", rawStart, rawEnd), confidence, assumptions)
}

func subUnit(t time.Time, unit string, n int) time.Time {
	switch unit {
	case "day":
		return t.AddDate(0, 0, -n)
	case "month":
		return t.AddDate(0, -n, 0)
	case "year":
		return t.AddDate(-n, 0, 0)
	}
	return t
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func fail(message string) Result {
	return Result{Success: false, Error: message}
}

func success(op Operation, start, end time.Time, description string, confidence float64, assumptions []string) Result {
	r := Result{
		Success:     true,
		Operation:   op,
		StartDate:   start,
		EndDate:     end,
		Description: description,
		Confidence:  confidence,
		Assumptions: assumptions,
	}
	r.Formats = Formats{
		ActivitiesTransactions: Range{Operation: op, Start: fixedWidth(start), End: fixedWidth(end)},
		JobLogs:                Range{Operation: op, Start: iso(start), End: iso(end)},
		GenericDatetime:        Range{Operation: op, Start: iso(start), End: iso(end)},
		DateOnly:               Range{Operation: op, Start: dateOnly(start), End: dateOnly(end)},
	}
	return r
}

func fixedWidth(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func iso(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func dateOnly(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
