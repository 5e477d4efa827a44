// Package system provides the wall clock used by the crawl pipeline.
package system

import "time"

// Clock reports the current time in a fixed location.
// The location decides which calendar day "today" is.
type Clock struct {
	loc *time.Location
}

// New creates a Clock for loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
