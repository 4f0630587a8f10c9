// Package policy holds the time-gated reply policy of the chat bot.
package policy

import (
	"fmt"
	"time"
)

// CutoffLayout is the civil-time layout accepted for a cutoff.
const CutoffLayout = "2006-01-02T15:04"

// Cutoff is an instant evaluated in the event's own timezone.
type Cutoff struct {
	at  time.Time
	loc *time.Location
}

// NewCutoff parses value as civil time in the IANA zone named tz. An empty
// value yields a cutoff that is never reached.
func NewCutoff(value, tz string) (*Cutoff, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	if value == "" {
		return &Cutoff{loc: loc}, nil
	}
	at, err := time.ParseInLocation(CutoffLayout, value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid cutoff %q (want %s): %w", value, CutoffLayout, err)
	}
	return &Cutoff{at: at, loc: loc}, nil
}

// Reached reports whether now is at or after the cutoff. Both instants are
// converted into the cutoff's zone first.
func (c *Cutoff) Reached(now time.Time) bool {
	if c == nil || c.at.IsZero() {
		return false
	}
	return !now.In(c.loc).Before(c.at.In(c.loc))
}

// Location is the zone the cutoff is evaluated in.
func (c *Cutoff) Location() *time.Location {
	return c.loc
}

func (c *Cutoff) String() string {
	if c == nil || c.at.IsZero() {
		return "never"
	}
	return c.at.Format(time.RFC3339)
}
