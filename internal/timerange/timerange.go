// Package timerange holds the calendar arithmetic shared by the block store,
// the availability resolver and the scheduler. Dates are "YYYY-MM-DD" and
// clock times are "HH:MM" (24h), both naive local values.
package timerange

import (
	"fmt"
	"time"

	"bookline/internal/domain"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// DateInRange compares by calendar day, inclusive on both ends. Anything
// after the first ten characters (a time-of-day suffix) is ignored.
func DateInRange(date, start, end string) bool {
	d := day(date)
	return d >= day(start) && d <= day(end)
}

// TimeInAnyRange reports whether clock falls within [start, end) of any range.
// An empty list returns false; callers treat it as a whole-day block.
func TimeInAnyRange(clock string, ranges []domain.TimeRange) bool {
	m := minutes(clock)
	for _, r := range ranges {
		if m >= minutes(r.Start) && m < minutes(r.End) {
			return true
		}
	}
	return false
}

func day(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// minutes assumes a well-formed HH:MM value.
func minutes(clock string) int {
	if len(clock) < 5 {
		return -1
	}
	h := int(clock[0]-'0')*10 + int(clock[1]-'0')
	m := int(clock[3]-'0')*10 + int(clock[4]-'0')
	return h*60 + m
}

// ParseDate validates a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseClock validates an HH:MM clock time and returns minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateRanges checks every range is well formed with start < end.
func ValidateRanges(ranges []domain.TimeRange) error {
	for i, r := range ranges {
		start, err := ParseClock(r.Start)
		if err != nil {
			return fmt.Errorf("time_ranges[%d].start: %w", i, err)
		}
		end, err := ParseClock(r.End)
		if err != nil {
			return fmt.Errorf("time_ranges[%d].end: %w", i, err)
		}
		if start >= end {
			return fmt.Errorf("time_ranges[%d]: start %s must be before end %s", i, r.Start, r.End)
		}
	}
	return nil
}

// Combine joins a date and clock into an instant in loc.
func Combine(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %s %s: %w", date, clock, err)
	}
	return t, nil
}

// ExpandDays lists every calendar day in [start, end].
func ExpandDays(start, end string) ([]string, error) {
	from, err := ParseDate(day(start))
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(day(end))
	if err != nil {
		return nil, err
	}
	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days, nil
}

// Overlap returns the intersection of two inclusive day ranges.
func Overlap(aStart, aEnd, bStart, bEnd string) (string, string, bool) {
	start := day(aStart)
	if day(bStart) > start {
		start = day(bStart)
	}
	end := day(aEnd)
	if day(bEnd) < end {
		end = day(bEnd)
	}
	return start, end, start <= end
}

// Slots generates clock times from start (inclusive) to end (exclusive)
// every step minutes.
func Slots(start, end string, step int) ([]string, error) {
	from, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("slot step must be positive")
	}
	var out []string
	for m := from; m < to; m += step {
		out = append(out, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return out, nil
}
