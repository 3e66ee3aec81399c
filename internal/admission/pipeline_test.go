package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moltlabs/tradegate/internal/approval"
	"github.com/moltlabs/tradegate/internal/broker"
	"github.com/moltlabs/tradegate/internal/executor"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/sector"
	"github.com/moltlabs/tradegate/internal/signal"
)

func f64(v float64) *float64 { return &v }

func testSignal() signal.Signal {
	return signal.Signal{
		Symbol:         "AAPL",
		Side:           signal.SideLong,
		ReferencePrice: 100,
		SetupTag:       "breakout",
		StopLoss:       f64(95),
		TakeProfit:     f64(110),
		ZScore:         f64(2.8),
		RelStrengthPct: f64(0.85),
		RelVolume:      f64(2.0),
		ReceivedAt:     time.Now(),
		IdempotencyKey: "delivery-1",
	}
}

type emptyPositions struct{}

func (emptyPositions) OpenPositions() ([]sector.Position, error) { return nil, nil }

type failingPortfolio struct{}

func (failingPortfolio) Snapshot() (risk.PortfolioSnapshot, error) {
	return risk.PortfolioSnapshot{}, errors.New("tracker offline")
}

// testPipeline builds a pipeline over an in-memory store and a paper broker,
// gated only by a watchlist, so individual tests can steer outcomes through
// the signal alone.
func testPipeline(t *testing.T, mutate func(*Config)) (*Pipeline, *intent.MemoryStore, *notify.Recorder, *broker.PaperBroker) {
	t.Helper()
	store := intent.NewMemoryStore()
	paper := broker.NewPaperBroker(broker.PaperConfig{LatencyMsMin: 1, LatencyMsMax: 1})
	conn := broker.NewConnManager(func(context.Context) (broker.Broker, error) {
		return paper, nil
	}, broker.ConnConfig{DialTimeout: time.Second})
	t.Cleanup(func() { conn.Close() })

	rec := notify.NewRecorder()
	exec := executor.New(store, conn, rec, nil, time.Second)

	cfg := Config{
		Chain:      risk.NewChain(risk.NewWatchlistGate([]string{"AAPL", "MSFT"})),
		Sizer:      &risk.Sizer{BaseRiskPct: 0.01},
		Store:      store,
		Regimes:    regime.StaticProvider{State: regime.DefaultState()},
		Counters:   risk.NewCounters(),
		Classifier: sector.NewClassifier(map[string]string{"AAPL": "Technology"}),
		Positions:  emptyPositions{},
		Portfolio:  risk.StaticPortfolio{Equity: 100000, PeakEquity: 100000},
		Approvals:  approval.NewChannel(store, exec, rec),
		Notifier:   rec,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewPipeline(cfg), store, rec, paper
}

func TestAdmitCreatesPendingIntent(t *testing.T) {
	p, store, rec, _ := testPipeline(t, nil)

	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("status = %s, want pending", out.Status)
	}
	if out.Intent == nil {
		t.Fatal("pending outcome carries no intent")
	}
	if out.Intent.Token == "" {
		t.Error("pending intent has no approval token")
	}
	// 100000 * 0.01 = 1000 risk budget at full multipliers, price 100.
	if out.Intent.Quantity != 10 {
		t.Errorf("quantity = %d, want 10", out.Intent.Quantity)
	}
	if out.Intent.Regime.Band != regime.BandRiskOn {
		t.Errorf("regime band = %s", out.Intent.Regime.Band)
	}

	got, err := store.Get(context.Background(), out.Intent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != intent.StatePending {
		t.Errorf("stored state = %s, want PENDING", got.State)
	}
	if rec.CountOf(notify.EventPending) != 1 {
		t.Errorf("pending events = %d, want 1", rec.CountOf(notify.EventPending))
	}
}

func TestAdmitGateRejection(t *testing.T) {
	p, _, rec, _ := testPipeline(t, nil)

	sig := testSignal()
	sig.Symbol = "GME"
	out, err := p.Admit(context.Background(), sig)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", out.Status)
	}
	if out.Gate != "watchlist" {
		t.Errorf("gate = %q, want watchlist", out.Gate)
	}
	if out.Intent != nil {
		t.Error("rejection carries an intent")
	}
	if rec.CountOf(notify.EventAdmissionRejected) != 1 {
		t.Errorf("rejection events = %d, want 1", rec.CountOf(notify.EventAdmissionRejected))
	}
}

func TestAdmitSuppressesDuplicateDelivery(t *testing.T) {
	p, _, _, _ := testPipeline(t, nil)

	first, err := p.Admit(context.Background(), testSignal())
	if err != nil || first.Status != StatusPending {
		t.Fatalf("first admit = %+v, %v", first, err)
	}

	second, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if second.Status != StatusDuplicate {
		t.Fatalf("status = %s, want duplicate", second.Status)
	}
	if second.Intent != nil {
		t.Error("duplicate outcome carries an intent")
	}
}

// failOnceStore errors the first Create and then delegates, the shape of a
// transient storage outage between delivery and retry.
type failOnceStore struct {
	*intent.MemoryStore
	failed bool
}

func (s *failOnceStore) Create(ctx context.Context, d intent.Draft) (intent.Intent, error) {
	if !s.failed {
		s.failed = true
		return intent.Intent{}, errors.New("disk full")
	}
	return s.MemoryStore.Create(ctx, d)
}

func TestAdmitRetryAfterStorageFailure(t *testing.T) {
	flaky := &failOnceStore{MemoryStore: intent.NewMemoryStore()}
	p, _, _, _ := testPipeline(t, func(cfg *Config) {
		cfg.Store = flaky
	})

	if _, err := p.Admit(context.Background(), testSignal()); err == nil {
		t.Fatal("first admit succeeded, want storage error")
	}

	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("retry admit: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("retry status = %s, want pending", out.Status)
	}
	if out.Intent == nil || out.Intent.Token == "" {
		t.Fatal("retry outcome carries no pending intent")
	}
}

func TestAdmitDistinctKeysBothAdmitted(t *testing.T) {
	p, store, _, _ := testPipeline(t, nil)

	a := testSignal()
	b := testSignal()
	b.IdempotencyKey = "delivery-2"

	for _, sig := range []signal.Signal{a, b} {
		out, err := p.Admit(context.Background(), sig)
		if err != nil || out.Status != StatusPending {
			t.Fatalf("admit %s = %+v, %v", sig.IdempotencyKey, out, err)
		}
	}
	pending, _ := store.ListPending(context.Background())
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestAdmitWhilePaused(t *testing.T) {
	p, _, _, _ := testPipeline(t, nil)

	p.Pause()
	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusRejected || out.Gate != "intake" {
		t.Fatalf("outcome = %+v, want intake rejection", out)
	}

	p.Resume()
	out, err = p.Admit(context.Background(), testSignal())
	if err != nil || out.Status != StatusPending {
		t.Fatalf("after resume = %+v, %v", out, err)
	}
}

func TestAdmitPortfolioUnavailableFailsClosed(t *testing.T) {
	p, _, _, _ := testPipeline(t, func(cfg *Config) {
		cfg.Portfolio = failingPortfolio{}
	})

	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusRejected || out.Gate != "portfolio" {
		t.Fatalf("outcome = %+v, want portfolio rejection", out)
	}
}

func TestAdmitZeroQuantityRejected(t *testing.T) {
	p, _, _, _ := testPipeline(t, func(cfg *Config) {
		cfg.Portfolio = risk.StaticPortfolio{Equity: 500, PeakEquity: 500}
	})

	// 500 * 0.01 = 5 risk budget buys zero shares at 100.
	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusRejected || out.Gate != "sizing" {
		t.Fatalf("outcome = %+v, want sizing rejection", out)
	}
}

func TestAdmitCanaryAutoApproves(t *testing.T) {
	p, store, rec, paper := testPipeline(t, func(cfg *Config) {
		cfg.Canary = true
	})

	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusAutoApproved {
		t.Fatalf("status = %s, want auto_approved", out.Status)
	}
	if out.Intent.Quantity != 1 {
		t.Errorf("canary quantity = %d, want probe size 1", out.Intent.Quantity)
	}

	// The execution settles asynchronously after auto-approval.
	deadline := time.After(2 * time.Second)
	for {
		got, _ := store.Get(context.Background(), out.Intent.ID)
		if got.State == intent.StateExecuted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("canary intent stuck in %s", got.State)
		case <-time.After(10 * time.Millisecond):
		}
	}

	placed := paper.Placed()
	if len(placed) != 1 || placed[0].Quantity != 1 {
		t.Errorf("placed = %+v, want one single-share order", placed)
	}
	if rec.CountOf(notify.EventAutoApproved) != 1 {
		t.Errorf("auto-approved events = %d, want 1", rec.CountOf(notify.EventAutoApproved))
	}
}

func TestAdmitCarriesGateWarnings(t *testing.T) {
	p, _, _, _ := testPipeline(t, func(cfg *Config) {
		corr := risk.StaticCorrelations{
			"AAPL": {"MSFT": 0.85},
		}
		cfg.Chain = risk.NewChain(
			risk.NewWatchlistGate([]string{"AAPL", "MSFT"}),
			&risk.CorrelationGate{Source: corr, MaxCorrelation: 0.7},
		)
		cfg.Positions = staticPositions{{Symbol: "MSFT", Quantity: 10}}
	})

	out, err := p.Admit(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("status = %s, want pending despite correlation warning", out.Status)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", out.Warnings)
	}
	if out.Intent == nil || len(out.Intent.Warnings) != 1 {
		t.Error("warning not persisted on the intent")
	}
}

type staticPositions []sector.Position

func (s staticPositions) OpenPositions() ([]sector.Position, error) { return s, nil }

func TestDedupeCacheWindow(t *testing.T) {
	d := newDedupeCache(time.Minute)
	base := time.Now()

	if !d.claim("k", base) {
		t.Fatal("first claim refused")
	}
	if d.claim("k", base.Add(30*time.Second)) {
		t.Fatal("claim inside window accepted")
	}
	if !d.claim("k", base.Add(2*time.Minute)) {
		t.Fatal("claim after window refused")
	}
	// A blank key never dedupes.
	if !d.claim("", base) || !d.claim("", base) {
		t.Fatal("blank key was deduplicated")
	}
}
