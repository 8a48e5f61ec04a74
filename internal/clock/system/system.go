// Package system provides the wall clock used for scan and alert timestamps.
package system

import "time"

// Clock implements store.Clock. Times are UTC and truncated to the
// microsecond so they survive a round trip through a Postgres timestamptz
// unchanged.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time without a monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
