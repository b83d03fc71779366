// Package system provides the clocks behind rate-limit windows, counter expiry and
// heartbeats: the UTC wall clock for running processes and a Manual clock for tests.
package system

import "time"

// Clock reads the wall clock in UTC. The zero value is ready to use.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
