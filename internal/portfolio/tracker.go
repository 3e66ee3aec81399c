// Package portfolio tracks open positions and equity, persisted as a JSON
// snapshot on disk. It is the live backing for both the sizing equity
// snapshot and the sector concentration ledger.
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/sector"
	"github.com/moltlabs/tradegate/internal/signal"
)

// Position is one open holding. Quantity is signed: negative means short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      int     `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	LastTradeAt   string  `json:"last_trade_at"`
}

type state struct {
	Version    int64               `json:"version"`
	UpdatedAt  string              `json:"updated_at"`
	Equity     float64             `json:"equity_usd"`
	PeakEquity float64             `json:"peak_equity_usd"`
	Positions  map[string]Position `json:"positions"`
}

// Tracker holds portfolio state in memory and writes it through to disk on
// every mutation with a temp-file rename, so a crash never leaves a torn
// snapshot.
type Tracker struct {
	mu       sync.RWMutex
	filePath string
	state    state
}

// NewTracker creates a tracker seeded with the configured equity. Load
// replaces the seed when a state file already exists.
func NewTracker(filePath string, equity, peakEquity float64) *Tracker {
	if peakEquity < equity {
		peakEquity = equity
	}
	return &Tracker{
		filePath: filePath,
		state: state{
			Equity:     equity,
			PeakEquity: peakEquity,
			Positions:  map[string]Position{},
		},
	}
}

// Load reads the snapshot from disk. A missing file is not an error: the
// seeded state is written out instead.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t.saveLocked()
		}
		return fmt.Errorf("read portfolio state: %w", err)
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		return fmt.Errorf("unmarshal portfolio state: %w", err)
	}
	if t.state.Positions == nil {
		t.state.Positions = map[string]Position{}
	}
	return nil
}

func (t *Tracker) saveLocked() error {
	t.state.Version++
	t.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal portfolio state: %w", err)
	}
	if dir := filepath.Dir(t.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create portfolio state dir: %w", err)
		}
	}
	tmp := t.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write portfolio state: %w", err)
	}
	if err := os.Rename(tmp, t.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace portfolio state: %w", err)
	}
	return nil
}

// RecordFill folds an executed order into the position book. It returns the
// P&L realized by the fill, zero unless it closed existing exposure.
func (t *Tracker) RecordFill(symbol string, side signal.Side, quantity int, price float64, at time.Time) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	signed := quantity
	if side == signal.SideShort {
		signed = -quantity
	}

	var realized float64
	pos := t.state.Positions[symbol]
	pos.Symbol = symbol
	switch {
	case pos.Quantity == 0:
		pos.Quantity = signed
		pos.AvgEntryPrice = price
	case (pos.Quantity > 0) == (signed > 0):
		// Same direction: blend the entry price.
		total := pos.AvgEntryPrice*float64(pos.Quantity) + price*float64(signed)
		pos.Quantity += signed
		pos.AvgEntryPrice = total / float64(pos.Quantity)
	default:
		// Opposite direction: realize P&L on the covered quantity.
		covered := signed
		if abs(signed) > abs(pos.Quantity) {
			covered = -pos.Quantity
		}
		realized = float64(-covered) * (price - pos.AvgEntryPrice)
		t.state.Equity += realized
		if t.state.Equity > t.state.PeakEquity {
			t.state.PeakEquity = t.state.Equity
		}
		pos.Quantity += signed
		if pos.Quantity != 0 && abs(signed) > abs(covered) {
			pos.AvgEntryPrice = price
		}
	}
	pos.LastTradeAt = at.UTC().Format(time.RFC3339)

	if pos.Quantity == 0 {
		delete(t.state.Positions, symbol)
	} else {
		t.state.Positions[symbol] = pos
	}
	return realized, t.saveLocked()
}

// Snapshot implements risk.PortfolioSource.
func (t *Tracker) Snapshot() (risk.PortfolioSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return risk.PortfolioSnapshot{
		Equity:        t.state.Equity,
		PeakEquity:    t.state.PeakEquity,
		OpenPositions: len(t.state.Positions),
	}, nil
}

// OpenPositions implements sector.PositionSource.
func (t *Tracker) OpenPositions() ([]sector.Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]sector.Position, 0, len(t.state.Positions))
	for _, p := range t.state.Positions {
		out = append(out, sector.Position{Symbol: p.Symbol, Quantity: p.Quantity})
	}
	return out, nil
}

// Position returns the open position for a symbol, if any.
func (t *Tracker) Position(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.state.Positions[symbol]
	return p, ok
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
