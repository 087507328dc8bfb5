package util

import (
	"fmt"
	"time"
	// Zone data for client time zones on hosts without zoneinfo.
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

// ParseRequestDate parses a client supplied reference date. RFC 3339
// timestamps keep their offset so the hour of day is the client's. A bare
// calendar date takes its clock time from now, in now's location.
func ParseRequestDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(dateLayout, value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected RFC 3339 or YYYY-MM-DD", value)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
}

// InZone returns now in the IANA time zone tz. An empty tz keeps now's location.
func InZone(now time.Time, tz string) (time.Time, error) {
	if tz == "" {
		return now, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time zone %q", tz)
	}
	return now.In(loc), nil
}

// DateString formats t as a calendar date in t's own location.
func DateString(t time.Time) string {
	return t.Format(dateLayout)
}

// ClockString formats t as HH:MM in t's own location.
func ClockString(t time.Time) string {
	return t.Format("15:04")
}

// DaysBetween returns the number of whole calendar days from one date string
// to another. The result is negative when to is before from.
func DaysBetween(from, to string) (int, error) {
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", from, err)
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", to, err)
	}
	return int(t.Sub(f).Hours() / 24), nil
}

// UntilEndOfDay returns the time left until the next midnight in now's location.
func UntilEndOfDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}
