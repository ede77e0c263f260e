// Package budget enforces a per-run ceiling on external API calls.
//
// A Counter is shared by reference across every wrapped external operation
// within one workflow run. Once the limit is crossed every further increment
// fails with *ExceededError, so a runaway loop cannot keep burning calls.
package budget

import "fmt"

// DefaultLimit is the per-run call ceiling used when none is configured.
const DefaultLimit = 100

// ExceededError is returned once a run has spent its call budget. It is a
// distinct type so callers can tell "ran out of budget" from ordinary
// operation failures.
type ExceededError struct {
	Count int
	Limit int
	Label string
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("call budget exceeded: %d calls (limit %d), last operation %q", e.Count, e.Limit, e.Label)
}

// Counter tracks external calls against a fixed limit.
//
// The counter is not reset on trip: it keeps climbing, and every increment
// past the limit fails identically. A Counter is owned by exactly one
// sequential delegation path; parallel branches must each get their own.
type Counter struct {
	count int
	limit int
}

// NewCounter returns a counter tripping once count exceeds limit.
// A non-positive limit falls back to DefaultLimit.
func NewCounter(limit int) *Counter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Counter{limit: limit}
}

// Increment records one external call labeled for diagnostics. It returns
// *ExceededError when the new count exceeds the limit.
func (c *Counter) Increment(label string) error {
	c.count++
	if c.count > c.limit {
		return &ExceededError{Count: c.count, Limit: c.limit, Label: label}
	}
	return nil
}

// Count returns the number of calls recorded so far.
func (c *Counter) Count() int {
	return c.count
}

// Limit returns the configured ceiling.
func (c *Counter) Limit() int {
	return c.limit
}
