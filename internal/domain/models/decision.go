// Package models defines the domain models.
package models

import (
	"time"

	"github.com/turtacn/admit/pkg/constants"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed
	Allowed bool
	// Remaining is the number of further requests admitted in the current window
	Remaining uint64
	// Limit is the budget of the window the decision was taken in
	Limit uint64
	// ResetAt is when the current window ends
	ResetAt time.Time
	// Class is the route class whose policy applied
	Class constants.RouteClass
	// Degraded is set when the decision came from a fallback policy
	// because the counter store could not be reached
	Degraded bool
}

// RetryAfter returns how long a rejected caller should wait, measured from now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}
