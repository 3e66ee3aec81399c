// Package calendar answers one question for the admission pipeline: is this
// symbol, today, inside an event blackout? Two sources feed it: per-symbol
// earnings dates and market-wide economic events (CPI, FOMC, jobs report).
package calendar

import (
	"fmt"
	"time"
)

// EconomicEvent is a scheduled market-moving macro release.
type EconomicEvent struct {
	Date       time.Time `yaml:"date"`
	Name       string    `yaml:"name"`
	Importance string    `yaml:"importance"`
}

// EarningsSource supplies the next scheduled earnings date for a symbol.
// A nil time with a nil error means no earnings are scheduled or known.
type EarningsSource interface {
	NextEarnings(symbol string) (*time.Time, error)
}

// Calendar evaluates blackout windows. The clock is injectable so the
// blackout gates stay deterministic under test.
type Calendar struct {
	earnings   EarningsSource
	events     []EconomicEvent
	daysBefore int // earnings blackout opens this many days before the report
	daysAfter  int // and closes this many days after
	now        func() time.Time
}

// Config sets the earnings blackout window. Defaults match the upstream
// policy: blocked from 5 days before through 2 days after the report.
type Config struct {
	DaysBefore int `yaml:"days_before"`
	DaysAfter  int `yaml:"days_after"`
}

func New(earnings EarningsSource, events []EconomicEvent, cfg Config) *Calendar {
	if cfg.DaysBefore <= 0 {
		cfg.DaysBefore = 5
	}
	if cfg.DaysAfter <= 0 {
		cfg.DaysAfter = 2
	}
	return &Calendar{
		earnings:   earnings,
		events:     events,
		daysBefore: cfg.DaysBefore,
		daysAfter:  cfg.DaysAfter,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (c *Calendar) SetClock(now func() time.Time) { c.now = now }

// EarningsBlackout reports whether the symbol's next earnings date falls
// inside the configured window around today. An error from the source is
// returned to the caller so the gate can apply its failure policy.
func (c *Calendar) EarningsBlackout(symbol string) (bool, string, error) {
	if c.earnings == nil {
		return false, "", nil
	}
	next, err := c.earnings.NextEarnings(symbol)
	if err != nil {
		return false, "", fmt.Errorf("earnings lookup for %s: %w", symbol, err)
	}
	if next == nil {
		return false, "", nil
	}
	days := int(next.Sub(c.now()).Hours() / 24)
	if -c.daysAfter <= days && days <= c.daysBefore {
		return true, fmt.Sprintf("earnings in %d days (blackout -%d..+%d)", days, c.daysAfter, c.daysBefore), nil
	}
	return false, "", nil
}

// EconomicBlackout reports whether today is an event day or the day after
// one. Macro releases gap the whole tape, so the window is market-wide.
func (c *Calendar) EconomicBlackout() (bool, string) {
	today := dateOnly(c.now())
	for _, ev := range c.events {
		day := dateOnly(ev.Date)
		if today.Equal(day) || today.Equal(day.AddDate(0, 0, 1)) {
			return true, fmt.Sprintf("%s (%s)", ev.Name, day.Format("2006-01-02"))
		}
	}
	return false, ""
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StaticEarnings is a fixture-backed EarningsSource for tests and offline
// deployments that sync the calendar out-of-band.
type StaticEarnings map[string]time.Time

func (s StaticEarnings) NextEarnings(symbol string) (*time.Time, error) {
	if t, ok := s[symbol]; ok {
		return &t, nil
	}
	return nil, nil
}
