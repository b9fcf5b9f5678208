package caregap

import (
	"fmt"
	"strings"
	"time"
)

const (
	isoDateLayout     = "2006-01-02"
	displayDateLayout = "Jan 2, 2006"
)

// fhirDateLayouts lists the accepted FHIR date and dateTime forms, most specific first.
var fhirDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	isoDateLayout,
	"2006-01",
	"2006",
}

// parseFHIRDate parses a FHIR date or dateTime into its calendar date
// (midnight UTC). The calendar date is taken as written, ignoring any zone
// offset. Partial dates resolve to the first day of the period.
func parseFHIRDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range fhirDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOf(t), true
		}
	}
	return time.Time{}, false
}

// dateOf truncates t to its calendar date at midnight UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths shifts d by n calendar months, clamping to the last day of the
// target month (Mar 31 - 1 month = Feb 28/29).
func addMonths(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	total := int(m) - 1 + n
	year := y + floorDiv(total, 12)
	month := time.Month(total-floorDiv(total, 12)*12 + 1)
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// monthsBetween returns the number of whole calendar months from "from" to "to".
// A month is complete once the day of month is reached, or when "to" falls on
// the last day of a shorter month. Negative spans return 0.
func monthsBetween(from, to time.Time) int {
	from, to = dateOf(from), dateOf(to)
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() && to.Day() != daysIn(to.Year(), to.Month()) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// yearsBetween returns the number of whole years from "from" to "to".
// Someone born on Feb 29 turns a year older on Mar 1 in non-leap years.
func yearsBetween(from, to time.Time) int {
	from, to = dateOf(from), dateOf(to)
	if to.Before(from) {
		return 0
	}
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}

// withinMonths reports whether d lies in [today - months, today].
func withinMonths(d, today time.Time, months int) bool {
	d, today = dateOf(d), dateOf(today)
	cutoff := addMonths(today, -months)
	return !d.Before(cutoff) && !d.After(today)
}

// inCalendarYear reports whether d falls in today's calendar year and not after today.
func inCalendarYear(d, today time.Time) bool {
	d, today = dateOf(d), dateOf(today)
	return d.Year() == today.Year() && !d.After(today)
}

// timeSince renders the elapsed time from d to today for narratives:
// whole years once at least a year has passed, whole months below that.
func timeSince(d, today time.Time) string {
	if years := yearsBetween(d, today); years >= 1 {
		return plural(years, "year") + " ago"
	}
	if months := monthsBetween(d, today); months >= 1 {
		return plural(months, "month") + " ago"
	}
	return "less than a month ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func formatISODate(d time.Time) string {
	return d.Format(isoDateLayout)
}

func formatDisplayDate(d time.Time) string {
	return d.Format(displayDateLayout)
}
