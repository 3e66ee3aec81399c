package risk

import (
	"sync"
	"time"
)

// Counters tracks per-trading-day risk state: realized plus estimated P&L,
// admitted intents, and executions per strategy category. It is owned by the
// gate layer; everything else sees read-only views. Counters roll over
// automatically when the trading day changes.
type Counters struct {
	mu sync.Mutex

	day          string
	realizedPnL  float64
	estimatedPnL float64
	admitted     int
	executed     map[string]int

	now func() time.Time
}

// CountersView is an immutable snapshot of the counters, taken once per
// admission decision so every gate in the chain sees the same numbers.
type CountersView struct {
	Day          string
	RealizedPnL  float64
	EstimatedPnL float64
	Admitted     int
	Executed     map[string]int
}

// DailyPnL is realized plus estimated P&L for the current trading day.
func (v CountersView) DailyPnL() float64 { return v.RealizedPnL + v.EstimatedPnL }

func NewCounters() *Counters {
	c := &Counters{executed: map[string]int{}, now: time.Now}
	c.day = c.tradingDay()
	return c
}

// SetClock overrides the wall clock, for tests.
func (c *Counters) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Counters) tradingDay() string {
	return c.now().UTC().Format("2006-01-02")
}

// rolloverLocked resets all counters when the trading day has changed.
// Callers must hold c.mu.
func (c *Counters) rolloverLocked() {
	today := c.tradingDay()
	if c.day == today {
		return
	}
	c.day = today
	c.realizedPnL = 0
	c.estimatedPnL = 0
	c.admitted = 0
	c.executed = map[string]int{}
}

// RecordAdmission bumps the admitted-intents count.
func (c *Counters) RecordAdmission() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.admitted++
}

// RecordExecution bumps the executed count for a strategy category.
func (c *Counters) RecordExecution(category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	if category == "" {
		category = "uncategorized"
	}
	c.executed[category]++
}

// AddRealizedPnL folds a closed trade's P&L into today's total.
func (c *Counters) AddRealizedPnL(amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.realizedPnL += amount
}

// SetEstimatedPnL replaces the open-position mark-to-market estimate.
func (c *Counters) SetEstimatedPnL(amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.estimatedPnL = amount
}

// View snapshots the counters for one admission decision.
func (c *Counters) View() CountersView {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	executed := make(map[string]int, len(c.executed))
	for k, v := range c.executed {
		executed[k] = v
	}
	return CountersView{
		Day:          c.day,
		RealizedPnL:  c.realizedPnL,
		EstimatedPnL: c.estimatedPnL,
		Admitted:     c.admitted,
		Executed:     executed,
	}
}
