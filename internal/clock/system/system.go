// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// Postgres stores, so a freshly written last_scraped_at compares equal after a
// round trip through the catalog.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
