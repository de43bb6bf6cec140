// Package workday decides whether a date is a working day. Weekends
// are days off and weekdays are working days, except where the
// configured calendar says otherwise: public holidays that fall on a
// weekday and make-up working days that fall on a weekend.
package workday

import (
	"fmt"
	"time"
)

// Calendar holds holiday and make-up workday overrides, keyed by
// YYYY-MM-DD. The zero value treats every weekday as a workday.
type Calendar struct {
	holidays map[string]bool
	workdays map[string]bool
}

// New builds a Calendar from holiday dates and make-up workday dates,
// both in YYYY-MM-DD form. A date listed in both is a workday.
func New(holidays, workdays []string) (*Calendar, error) {
	c := &Calendar{
		holidays: make(map[string]bool, len(holidays)),
		workdays: make(map[string]bool, len(workdays)),
	}
	for _, d := range holidays {
		key, err := normalize(d)
		if err != nil {
			return nil, fmt.Errorf("holiday: %w", err)
		}
		c.holidays[key] = true
	}
	for _, d := range workdays {
		key, err := normalize(d)
		if err != nil {
			return nil, fmt.Errorf("workday: %w", err)
		}
		c.workdays[key] = true
	}
	return c, nil
}

func normalize(d string) (string, error) {
	t, err := time.Parse(time.DateOnly, d)
	if err != nil {
		return "", fmt.Errorf("invalid date %q", d)
	}
	return t.Format(time.DateOnly), nil
}

// IsWorkday reports whether t's calendar date, in t's own location, is
// a working day.
func (c *Calendar) IsWorkday(t time.Time) bool {
	key := t.Format(time.DateOnly)
	if c != nil {
		if c.workdays[key] {
			return true
		}
		if c.holidays[key] {
			return false
		}
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// Len returns the number of overrides in the calendar.
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.holidays) + len(c.workdays)
}
