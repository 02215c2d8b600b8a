// Package clock supplies "today" as a calendar date.
package clock

import (
	"fmt"
	"time"
)

// Clock returns the current calendar date as a UTC midnight instant.
type Clock interface {
	Today() time.Time
}

type zoneClock struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Clock that observes the date in the named IANA zone.
// An empty name means UTC.
func New(zone string) (Clock, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("load location %q: %w", zone, err)
		}
		loc = l
	}
	return &zoneClock{loc: loc, now: time.Now}, nil
}

func (c *zoneClock) Today() time.Time {
	return DateOf(c.now(), c.loc)
}

// DateOf truncates t to its calendar date in loc, encoded as UTC midnight.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Fixed always reports the same date. Used by tests and manual backfills.
type Fixed struct {
	Date time.Time
}

func (f Fixed) Today() time.Time {
	return DateOf(f.Date, time.UTC)
}
