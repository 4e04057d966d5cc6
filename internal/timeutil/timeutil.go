// Package timeutil holds the business-timezone helpers used by prompts and
// call scheduling.
package timeutil

import (
	"fmt"
	"time"
)

// Business wraps a timezone and working-hours window.
type Business struct {
	loc   *time.Location
	start int // working hour, inclusive
	end   int // working hour, exclusive
}

// NewBusiness loads the timezone; start/end are working hours of the day.
func NewBusiness(timezone string, start, end int) (*Business, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", timezone, err)
	}
	if start < 0 || end > 24 || start >= end {
		return nil, fmt.Errorf("invalid working hours %d-%d", start, end)
	}
	return &Business{loc: loc, start: start, end: end}, nil
}

// Now returns the current time in the business timezone.
func (b *Business) Now() time.Time {
	return time.Now().In(b.loc)
}

// HoursSince returns full hours elapsed since t.
func (b *Business) HoursSince(t time.Time) float64 {
	return b.Now().Sub(t).Hours()
}

// InWorkingHours reports whether t falls inside the working window.
func (b *Business) InWorkingHours(t time.Time) bool {
	h := t.In(b.loc).Hour()
	return h >= b.start && h < b.end
}

// NextWorkingTime returns the next instant inside the working window,
// starting from now.
func (b *Business) NextWorkingTime() time.Time {
	t := b.Now()
	if b.InWorkingHours(t) {
		return t
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), b.start, 0, 0, 0, b.loc)
	if !t.Before(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// FormatForUser renders t the way prompts present dates to the model.
func (b *Business) FormatForUser(t time.Time) string {
	return t.In(b.loc).Format("02.01.2006 15:04")
}

// Timezone returns the configured timezone name.
func (b *Business) Timezone() string {
	return b.loc.String()
}
