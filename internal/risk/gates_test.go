package risk

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moltlabs/tradegate/internal/calendar"
	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/sector"
	"github.com/moltlabs/tradegate/internal/signal"
)

func f64(v float64) *float64 { return &v }

// evidenceSignal is a long that clears every default evidence threshold.
func evidenceSignal() signal.Signal {
	return signal.Signal{
		Symbol:         "AAPL",
		Side:           signal.SideLong,
		ReferencePrice: 230,
		ZScore:         f64(2.4),
		RelStrengthPct: f64(0.75),
		RelVolume:      f64(1.5),
	}
}

func baseContext() GateContext {
	return GateContext{
		Signal: evidenceSignal(),
		Regime: regime.DefaultState(),
		Now:    time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestKillSwitchGate(t *testing.T) {
	ks := NewKillSwitch(filepath.Join(t.TempDir(), "KILL"))
	g := &KillSwitchGate{Switch: ks}

	if res := g.Evaluate(baseContext()); !res.Allowed {
		t.Fatal("released switch should allow")
	}
	if err := ks.Engage(); err != nil {
		t.Fatal(err)
	}
	if res := g.Evaluate(baseContext()); res.Allowed {
		t.Fatal("engaged switch should deny")
	}
	if err := ks.Release(); err != nil {
		t.Fatal(err)
	}
	if res := g.Evaluate(baseContext()); !res.Allowed {
		t.Fatal("released switch should allow again")
	}
}

func TestKillSwitchSentinelFileSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KILL")
	if err := NewKillSwitch(path).Engage(); err != nil {
		t.Fatal(err)
	}

	// A fresh process sees only the file.
	fresh := NewKillSwitch(path)
	if !fresh.Engaged() {
		t.Fatal("sentinel file should engage a fresh switch")
	}
	if err := fresh.Release(); err != nil {
		t.Fatal(err)
	}
	if fresh.Engaged() {
		t.Fatal("release should remove the sentinel")
	}
}

type pnl struct {
	v   float64
	err error
}

func (p pnl) DailyPnL() (float64, error) { return p.v, p.err }

func TestDailyLossGate(t *testing.T) {
	g := &DailyLossGate{LimitUSD: 1000}

	gc := baseContext()
	gc.Counters.RealizedPnL = -400
	if res := g.Evaluate(gc); !res.Allowed {
		t.Error("loss under limit should allow")
	}

	gc.Counters.RealizedPnL = -800
	gc.Counters.EstimatedPnL = -300
	if res := g.Evaluate(gc); res.Allowed {
		t.Error("combined loss over limit should deny")
	}
}

func TestDailyLossGateFailsOpenOnSourceError(t *testing.T) {
	g := &DailyLossGate{LimitUSD: 1000, Source: pnl{err: errors.New("tracker down")}}

	res := g.Evaluate(baseContext())
	if !res.Allowed {
		t.Fatal("source failure should fail open")
	}
	if !res.Degraded {
		t.Error("fail-open result must be flagged degraded")
	}
	if res.Warning == "" {
		t.Error("fail-open result must carry a warning")
	}
}

func TestWindowGate(t *testing.T) {
	g := &WindowGate{
		Start: WindowEdge{Hour: 9, Minute: 45},
		End:   WindowEdge{Hour: 15, Minute: 30},
	}
	cases := []struct {
		hour, min int
		want      bool
	}{
		{9, 44, false},
		{9, 45, true},
		{12, 0, true},
		{15, 30, true},
		{15, 31, false},
	}
	for _, tc := range cases {
		gc := baseContext()
		gc.Now = time.Date(2026, 3, 2, tc.hour, tc.min, 0, 0, time.UTC)
		if res := g.Evaluate(gc); res.Allowed != tc.want {
			t.Errorf("%02d:%02d allowed = %v, want %v", tc.hour, tc.min, res.Allowed, tc.want)
		}
	}
}

func TestWatchlistGate(t *testing.T) {
	g := NewWatchlistGate([]string{"aapl", "NVDA"})

	gc := baseContext()
	if res := g.Evaluate(gc); !res.Allowed {
		t.Error("watchlisted symbol should pass")
	}

	gc.Signal.Symbol = "GME"
	if res := g.Evaluate(gc); res.Allowed {
		t.Error("unlisted symbol should be denied")
	}
}

type failingEarnings struct{}

func (failingEarnings) NextEarnings(string) (*time.Time, error) {
	return nil, errors.New("provider down")
}

func TestBlackoutGate(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	t.Run("earnings blackout denies", func(t *testing.T) {
		cal := calendar.New(calendar.StaticEarnings{"AAPL": now.AddDate(0, 0, 3)}, nil, calendar.Config{})
		cal.SetClock(func() time.Time { return now })
		res := (&BlackoutGate{Calendar: cal}).Evaluate(baseContext())
		if res.Allowed {
			t.Error("earnings in 3 days should deny")
		}
	})

	t.Run("economic event denies everything", func(t *testing.T) {
		cal := calendar.New(nil, []calendar.EconomicEvent{{Date: now, Name: "CPI"}}, calendar.Config{})
		cal.SetClock(func() time.Time { return now })
		res := (&BlackoutGate{Calendar: cal}).Evaluate(baseContext())
		if res.Allowed {
			t.Error("event day should deny")
		}
		if !strings.Contains(res.Reason, "CPI") {
			t.Errorf("reason should name the event, got %q", res.Reason)
		}
	})

	t.Run("earnings lookup failure fails open", func(t *testing.T) {
		cal := calendar.New(failingEarnings{}, nil, calendar.Config{})
		cal.SetClock(func() time.Time { return now })
		res := (&BlackoutGate{Calendar: cal}).Evaluate(baseContext())
		if !res.Allowed || !res.Degraded {
			t.Errorf("want fail-open degraded, got %+v", res)
		}
	})
}

func TestEvidenceGateFailsClosed(t *testing.T) {
	g := &EvidenceGate{LongRSMin: 0.60, ShortRSMax: 0.40, RelVolumeMin: 1.2}

	gc := baseContext()
	if res := g.Evaluate(gc); !res.Allowed {
		t.Fatalf("strong evidence should pass: %s", res.Reason)
	}

	missing := gc
	missing.Signal.ZScore = nil
	if res := g.Evaluate(missing); res.Allowed {
		t.Error("missing zScore must deny")
	}

	weakRS := gc
	weakRS.Signal.RelStrengthPct = f64(0.55)
	if res := g.Evaluate(weakRS); res.Allowed {
		t.Error("long below RS floor must deny")
	}

	short := gc
	short.Signal.Side = signal.SideShort
	short.Signal.RelStrengthPct = f64(0.75)
	if res := g.Evaluate(short); res.Allowed {
		t.Error("short above RS ceiling must deny")
	}
	short.Signal.RelStrengthPct = f64(0.30)
	short.Signal.ZScore = f64(-2.4)
	if res := g.Evaluate(short); !res.Allowed {
		t.Errorf("weak-RS short with negative z should pass: %s", res.Reason)
	}

	thinVolume := gc
	thinVolume.Signal.RelVolume = f64(1.0)
	if res := g.Evaluate(thinVolume); res.Allowed {
		t.Error("rvol below floor must deny")
	}
}

func TestEvidenceGateUsesRegimeThreshold(t *testing.T) {
	g := &EvidenceGate{LongRSMin: 0.60, ShortRSMax: 0.40, RelVolumeMin: 1.2}

	gc := baseContext()
	gc.Signal.ZScore = f64(2.4)
	gc.Regime.EntryZThreshold = 2.5 // tightening
	if res := g.Evaluate(gc); res.Allowed {
		t.Error("z below tightening threshold must deny")
	}

	gc.Regime.EntryZThreshold = 2.0
	if res := g.Evaluate(gc); !res.Allowed {
		t.Errorf("same z passes the risk-on threshold: %s", res.Reason)
	}

	gc.Signal.ZScore = f64(2.8)
	gc.Regime.Band = regime.BandDefensive
	gc.Regime.EntryZThreshold = 3.0
	res := g.Evaluate(gc)
	if res.Allowed {
		t.Fatal("z below defensive threshold must deny")
	}
	if !strings.Contains(res.Reason, "3.00") {
		t.Errorf("reason %q does not cite the threshold", res.Reason)
	}
}

type posList []sector.Position

func (p posList) OpenPositions() ([]sector.Position, error) { return p, nil }

func TestSectorGate(t *testing.T) {
	classifier := sector.NewClassifier(map[string]string{"AAPL": "Technology", "MSFT": "Technology"})
	g := &SectorGate{MaxPerSector: 1}

	gc := baseContext()
	empty, err := sector.Snapshot(classifier, posList{})
	if err != nil {
		t.Fatal(err)
	}
	gc.Sectors = empty
	if res := g.Evaluate(gc); !res.Allowed {
		t.Error("empty sector should allow")
	}

	full, err := sector.Snapshot(classifier, posList{{Symbol: "MSFT", Quantity: 10}})
	if err != nil {
		t.Fatal(err)
	}
	gc.Sectors = full
	res := g.Evaluate(gc)
	if res.Allowed {
		t.Fatal("occupied sector should deny at limit 1")
	}
	if !strings.Contains(res.Reason, "MSFT") {
		t.Errorf("reason should name the occupant, got %q", res.Reason)
	}
}

type corrSource struct {
	m   map[string]float64
	err error
}

func (c corrSource) Correlations(string, []string) (map[string]float64, error) {
	return c.m, c.err
}

func TestCorrelationGateWarnsButNeverBlocks(t *testing.T) {
	g := &CorrelationGate{Source: corrSource{m: map[string]float64{"MSFT": 0.85}}}

	res := g.Evaluate(baseContext())
	if !res.Allowed {
		t.Fatal("correlation gate must never block")
	}
	if res.Warning == "" || !strings.Contains(res.Warning, "MSFT") {
		t.Errorf("expected a warning naming MSFT, got %q", res.Warning)
	}

	res = (&CorrelationGate{Source: corrSource{err: errors.New("no data")}}).Evaluate(baseContext())
	if !res.Allowed || !res.Degraded {
		t.Errorf("source failure should fail open degraded, got %+v", res)
	}

	res = (&CorrelationGate{Source: corrSource{m: map[string]float64{"MSFT": 0.4}}}).Evaluate(baseContext())
	if !res.Allowed || res.Warning != "" {
		t.Errorf("low correlation should pass clean, got %+v", res)
	}
}

func TestStaticCorrelationsReadsBothTriangles(t *testing.T) {
	s := StaticCorrelations{"AAPL": {"MSFT": 0.8}}

	got, err := s.Correlations("MSFT", []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if got["AAPL"] != 0.8 {
		t.Errorf("mirror lookup = %v, want 0.8", got["AAPL"])
	}
}

func TestChainOrderAndShortCircuit(t *testing.T) {
	ks := NewKillSwitch("")
	if err := ks.Engage(); err != nil {
		t.Fatal(err)
	}
	chain := NewChain(
		NewWatchlistGate(nil), // would deny everything
		&KillSwitchGate{Switch: ks},
	)

	v := chain.Evaluate(baseContext())
	if v.Allowed {
		t.Fatal("expected rejection")
	}
	if v.Gate != "kill_switch" {
		t.Errorf("rejecting gate = %q, want kill_switch to run first", v.Gate)
	}
}

func TestChainCollectsWarnings(t *testing.T) {
	chain := NewChain(
		&DailyLossGate{LimitUSD: 1000, Source: pnl{err: errors.New("down")}},
		&CorrelationGate{Source: corrSource{m: map[string]float64{"MSFT": 0.9}}},
	)

	v := chain.Evaluate(baseContext())
	if !v.Allowed {
		t.Fatalf("soft issues must not reject: %s", v.Reason)
	}
	if len(v.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", v.Warnings)
	}
}
