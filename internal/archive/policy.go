// Package archive decides whether a listing being removed is hard-deleted or
// kept as an archived record.
//
// A harvest is deleted outright when it never went live (available from a
// future date) or when it was created within the archive window. Anything
// older has been visible to buyers long enough to be kept for history.
package archive

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAge is the archive window applied when none is configured.
const DefaultMaxAge = 4 * 24 * time.Hour

// ErrWindowUnderflow is returned when now minus the window leaves the
// representable time range.
var ErrWindowUnderflow = errors.New("archive window underflows the time range")

// Decision is the terminal state chosen for a removed row.
type Decision int

const (
	Delete Decision = iota
	Archive
)

func (d Decision) String() string {
	switch d {
	case Delete:
		return "delete"
	case Archive:
		return "archive"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// MarshalText renders the decision by name in JSON payloads and logs.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Policy struct {
	MaxAge time.Duration
}

func NewPolicy(maxAge time.Duration) Policy {
	return Policy{MaxAge: maxAge}
}

func (p Policy) window() time.Duration {
	if p.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return p.MaxAge
}

// At fixes the cutoff for one cascade. Every row of the cascade is judged
// against the same now.
func (p Policy) At(now time.Time) (Cutoff, error) {
	now = now.UTC()
	threshold := now.Add(-p.window())
	if threshold.After(now) || threshold.Before(time.Time{}) {
		return Cutoff{}, fmt.Errorf("%w: now=%s window=%s", ErrWindowUnderflow, now.Format(time.RFC3339), p.window())
	}
	return Cutoff{now: now, threshold: threshold}, nil
}

// Cutoff is a policy evaluated at a fixed instant.
type Cutoff struct {
	now       time.Time
	threshold time.Time
}

func (c Cutoff) Now() time.Time { return c.now }

// Threshold is now minus the archive window. Rows created strictly after it
// are recent.
func (c Cutoff) Threshold() time.Time { return c.threshold }

// Decide classifies one harvest. availableAt is a calendar date; only its
// year, month and day are used.
func (c Cutoff) Decide(createdAt, availableAt time.Time) Decision {
	if dateOf(availableAt).After(dateOf(c.now)) {
		return Delete
	}
	if createdAt.After(c.threshold) {
		return Delete
	}
	return Archive
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
