// Package system supplies the wall clock the pipeline stamps runs and
// committed batches with.
package system

import "time"

// Clock satisfies sampler.Clock. Run summaries and batch rows record its
// readings, so they are always UTC.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
