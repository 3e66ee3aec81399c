package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/portfolio"
	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/signal"
)

func executedFill(side signal.Side, qty int, price float64) notify.Event {
	return notify.Event{
		Type:     notify.EventExecuted,
		Symbol:   "AAPL",
		Side:     string(side),
		Quantity: qty,
		Price:    price,
		At:       time.Now(),
	}
}

func TestFillRecorderFeedsDailyLossBreaker(t *testing.T) {
	tracker := portfolio.NewTracker(filepath.Join(t.TempDir(), "portfolio.json"), 100000, 100000)
	if err := tracker.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	counters := risk.NewCounters()
	rec := fillRecorder{tracker: tracker, counters: counters}
	gate := &risk.DailyLossGate{LimitUSD: 500}

	rec.Publish(executedFill(signal.SideLong, 10, 200))
	if res := gate.Evaluate(risk.GateContext{Counters: counters.View()}); !res.Allowed {
		t.Fatalf("gate denied before any loss: %s", res.Reason)
	}

	// Close the position $60 lower, a $600 realized loss.
	rec.Publish(executedFill(signal.SideShort, 10, 140))
	view := counters.View()
	if view.RealizedPnL != -600 {
		t.Fatalf("realized P&L = %v, want -600", view.RealizedPnL)
	}
	res := gate.Evaluate(risk.GateContext{Counters: view})
	if res.Allowed {
		t.Fatal("gate allowed after daily loss limit breached")
	}
}

func TestFillRecorderIgnoresNonExecutionEvents(t *testing.T) {
	tracker := portfolio.NewTracker(filepath.Join(t.TempDir(), "portfolio.json"), 100000, 100000)
	if err := tracker.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	counters := risk.NewCounters()
	rec := fillRecorder{tracker: tracker, counters: counters}

	rec.Publish(notify.Event{Type: notify.EventPending, Symbol: "AAPL", Quantity: 10, Price: 100})
	if _, ok := tracker.Position("AAPL"); ok {
		t.Fatal("pending event opened a position")
	}
}
