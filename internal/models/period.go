package models

import (
	"fmt"
	"time"
)

// DateLayout is the YYYY-MM-DD format accepted by triggers and emitted in payloads
const DateLayout = "2006-01-02"

// FirstOfMonth normalizes t to midnight UTC on the first day of its month
func FirstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// PriorYearMonth returns the same calendar month one year earlier
func PriorYearMonth(t time.Time) time.Time {
	return FirstOfMonth(t).AddDate(-1, 0, 0)
}

// PreviousMonth returns the first day of the month before t
func PreviousMonth(t time.Time) time.Time {
	return FirstOfMonth(t).AddDate(0, -1, 0)
}

// MonthWindow returns [first of (now - monthsBack months), first of now's month]
func MonthWindow(now time.Time, monthsBack int) (time.Time, time.Time) {
	end := FirstOfMonth(now)
	return end.AddDate(0, -monthsBack, 0), end
}

// ParseDate parses YYYY-MM-DD; an empty string yields today
func ParseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
