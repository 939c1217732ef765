package domain

import (
	"fmt"
	"time"
)

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// Yesterday returns yesterday's date string, the default extraction target.
func Yesterday() string {
	return time.Now().AddDate(0, 0, -1).Format(DateFormat)
}

// DaysAgo returns the date string n days before today.
func DaysAgo(n int) string {
	return time.Now().AddDate(0, 0, -n).Format(DateFormat)
}

// DateRange expands an inclusive [start, end] range into ordered date
// strings. Returns an error when either bound is malformed or start is
// after end.
func DateRange(start, end string) ([]string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("start_date %s is after end_date %s", start, end)
	}
	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateFormat))
	}
	return dates, nil
}

// ShiftDate returns the date string offset by days (negative shifts back).
func ShiftDate(date string, days int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format(DateFormat), nil
}

// IsWeekend reports whether the date falls on Saturday or Sunday.
func IsWeekend(date string) bool {
	t, err := ParseDate(date)
	if err != nil {
		return false
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
