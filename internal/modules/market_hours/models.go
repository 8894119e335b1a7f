// Package market_hours classifies the current trading phase of the exchange from a
// live reference quote and a fixed session table.
package market_hours

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the coarse market phase.
type Status string

const (
	StatusClosed  Status = "closed"
	StatusTrading Status = "trading"
	StatusBreak   Status = "break"
)

// DefaultTimezone is the exchange timezone for the default session table.
const DefaultTimezone = "Asia/Shanghai"

// ClockTime is a time of day in the market timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns c on the calendar date of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// Sessions is the daily session table: a morning session and an afternoon session
// separated by a lunch break.
type Sessions struct {
	AMOpen  ClockTime
	AMClose ClockTime
	FMOpen  ClockTime
	FMClose ClockTime
}

// DefaultSessions returns the exchange's regular hours.
func DefaultSessions() Sessions {
	return Sessions{
		AMOpen:  ClockTime{Hour: 9, Minute: 25},
		AMClose: ClockTime{Hour: 11, Minute: 30},
		FMOpen:  ClockTime{Hour: 13, Minute: 0},
		FMClose: ClockTime{Hour: 15, Minute: 0},
	}
}

// Validate checks the four boundaries are strictly ascending within one day.
func (s Sessions) Validate() error {
	order := []ClockTime{s.AMOpen, s.AMClose, s.FMOpen, s.FMClose}
	for i, c := range order {
		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("session boundary %s out of range", c)
		}
		if i > 0 && c.minutes() <= order[i-1].minutes() {
			return fmt.Errorf("session boundary %s must be after %s", c, order[i-1])
		}
	}
	return nil
}

// On materializes the session table on day's calendar date.
func (s Sessions) On(day time.Time) Boundaries {
	return Boundaries{
		AMOpen:  s.AMOpen.On(day),
		AMClose: s.AMClose.On(day),
		FMOpen:  s.FMOpen.On(day),
		FMClose: s.FMClose.On(day),
	}
}

// Boundaries are the four session instants of one trading day.
type Boundaries struct {
	AMOpen  time.Time
	AMClose time.Time
	FMOpen  time.Time
	FMClose time.Time
}

// IsZero reports whether no boundaries are known.
func (b Boundaries) IsZero() bool {
	return b.AMOpen.IsZero() && b.AMClose.IsZero() && b.FMOpen.IsZero() && b.FMClose.IsZero()
}

// MarshalJSON renders empty boundaries as {}.
func (b Boundaries) MarshalJSON() ([]byte, error) {
	if b.IsZero() {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]time.Time{
		"am_open":  b.AMOpen,
		"am_close": b.AMClose,
		"fm_open":  b.FMOpen,
		"fm_close": b.FMClose,
	})
}

// Phase is one classification result together with how long it may be reused.
type Phase struct {
	Status     Status     `json:"status"`
	Boundaries Boundaries `json:"boundaries"`
	ValidUntil time.Time  `json:"valid_until"`
}

// Valid reports whether the classification can still be served at now.
func (p Phase) Valid(now time.Time) bool {
	return now.Before(p.ValidUntil)
}

// Open reports whether the phase belongs to a trading day.
func (p Phase) Open() bool {
	return p.Status == StatusTrading || p.Status == StatusBreak
}
