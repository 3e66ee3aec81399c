// Package admission runs a normalized signal through the safety gates and,
// when everything passes, records a pending intent awaiting an approval
// decision.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/approval"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/observ"
	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/sector"
	"github.com/moltlabs/tradegate/internal/signal"
)

// Status classifies what admission did with a signal.
type Status string

const (
	StatusRejected     Status = "rejected"
	StatusPending      Status = "pending"
	StatusAutoApproved Status = "auto_approved"
	StatusDuplicate    Status = "duplicate"
)

// Outcome is the synchronous result of admitting one signal. Intent is nil
// for rejections and duplicates.
type Outcome struct {
	Status   Status
	Gate     string
	Reason   string
	Warnings []string
	Intent   *intent.Intent
}

// Pipeline is the admission path: dedupe, gate chain, sizing, intent
// creation, and the canary shortcut. One Pipeline serves all webhook
// deliveries concurrently; the gates see consistent snapshots taken at the
// top of Admit.
type Pipeline struct {
	chain      *risk.Chain
	sizer      *risk.Sizer
	store      intent.Store
	regimes    regime.Source
	counters   *risk.Counters
	classifier *sector.Classifier
	positions  sector.PositionSource
	portfolio  risk.PortfolioSource
	approvals  *approval.Channel
	notifier   notify.Notifier

	canary bool
	seen   *dedupeCache
	now    func() time.Time
	log    zerolog.Logger

	mu     sync.Mutex
	paused bool
}

// Config wires the pipeline's collaborators.
type Config struct {
	Chain      *risk.Chain
	Sizer      *risk.Sizer
	Store      intent.Store
	Regimes    regime.Source
	Counters   *risk.Counters
	Classifier *sector.Classifier
	Positions  sector.PositionSource
	Portfolio  risk.PortfolioSource
	Approvals  *approval.Channel
	Notifier   notify.Notifier

	// Canary auto-approves admitted intents at probe size instead of
	// waiting for a human decision.
	Canary bool
	// DedupeWindow bounds how long a delivery's idempotency key suppresses
	// replays. Zero means 10 minutes.
	DedupeWindow time.Duration
}

func NewPipeline(cfg Config) *Pipeline {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Pipeline{
		chain:      cfg.Chain,
		sizer:      cfg.Sizer,
		store:      cfg.Store,
		regimes:    cfg.Regimes,
		counters:   cfg.Counters,
		classifier: cfg.Classifier,
		positions:  cfg.Positions,
		portfolio:  cfg.Portfolio,
		approvals:  cfg.Approvals,
		notifier:   cfg.Notifier,
		canary:     cfg.Canary,
		seen:       newDedupeCache(window),
		now:        time.Now,
		log:        observ.Component("admission"),
	}
}

// Pause stops admitting new signals. Pending intents remain decidable and
// in-flight executions are unaffected.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.log.Warn().Msg("intake paused")
}

// Resume re-enables admission.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.log.Info().Msg("intake resumed")
}

func (p *Pipeline) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Admit evaluates one signal. An error return means storage failed; every
// policy outcome, including rejection, is a non-error Outcome.
func (p *Pipeline) Admit(ctx context.Context, sig signal.Signal) (Outcome, error) {
	start := p.now()
	defer func() {
		observ.AdmissionLatency.Observe(p.now().Sub(start).Seconds())
	}()

	if p.Paused() {
		return p.reject(sig, "intake", "intake is paused"), nil
	}
	if !p.seen.claim(sig.IdempotencyKey, start) {
		p.log.Info().
			Str("symbol", sig.Symbol).
			Str("idempotency_key", sig.IdempotencyKey).
			Msg("duplicate delivery suppressed")
		return Outcome{Status: StatusDuplicate, Reason: "duplicate delivery"}, nil
	}

	psnap, err := p.portfolio.Snapshot()
	if err != nil {
		// Sizing cannot run without equity, so an unreachable portfolio
		// source blocks the trade rather than guessing.
		p.log.Error().Err(err).Msg("portfolio snapshot unavailable")
		return p.reject(sig, "portfolio", "portfolio snapshot unavailable"), nil
	}

	ledger, err := sector.Snapshot(p.classifier, p.positions)
	if err != nil {
		p.log.Warn().Err(err).Msg("position source unavailable, sector ledger empty")
		ledger = sector.Ledger{}
	}

	gc := risk.GateContext{
		Signal:    sig,
		Counters:  p.counters.View(),
		Regime:    p.regimes.Current(),
		Sectors:   ledger,
		Portfolio: psnap,
		Now:       start,
	}

	verdict := p.chain.Evaluate(gc)
	if !verdict.Allowed {
		out := p.reject(sig, verdict.Gate, verdict.Reason)
		out.Warnings = verdict.Warnings
		return out, nil
	}

	size := p.sizer.Size(sig, psnap, gc.Regime)
	if size.Quantity <= 0 {
		return p.reject(sig, "sizing", "position size floored to zero"), nil
	}

	quantity := size.Quantity
	if p.canary {
		quantity = 1
	}

	in, err := p.store.Create(ctx, intent.Draft{
		Signal:   sig,
		Quantity: quantity,
		Risk: intent.RiskParams{
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			Size:       size,
		},
		Regime:   gc.Regime,
		Canary:   p.canary,
		Warnings: verdict.Warnings,
	})
	if err != nil {
		// The sender gets a 5xx and will retry; give the key back so the
		// retry is not mistaken for a duplicate delivery.
		p.seen.release(sig.IdempotencyKey)
		return Outcome{}, err
	}

	p.counters.RecordAdmission()
	observ.PendingIntents.Inc()
	p.notifier.Publish(notify.FromIntent(notify.EventPending, in, start))
	p.log.Info().
		Str("intent_id", in.ID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Int("quantity", quantity).
		Str("token_digest", in.TokenDigest()).
		Bool("canary", p.canary).
		Msg("intent admitted")

	if p.canary {
		res, err := p.approvals.AutoApprove(ctx, in.ID)
		if err != nil {
			// Extremely unlikely (a fresh intent decided from outside);
			// leave it pending rather than failing the delivery.
			p.log.Error().Err(err).Str("intent_id", in.ID).Msg("canary auto-approval failed")
			return Outcome{Status: StatusPending, Warnings: verdict.Warnings, Intent: &in}, nil
		}
		decided := res.Intent
		return Outcome{Status: StatusAutoApproved, Warnings: verdict.Warnings, Intent: &decided}, nil
	}
	return Outcome{Status: StatusPending, Warnings: verdict.Warnings, Intent: &in}, nil
}

func (p *Pipeline) reject(sig signal.Signal, gate, reason string) Outcome {
	p.notifier.Publish(notify.Event{
		Type:   notify.EventAdmissionRejected,
		Symbol: sig.Symbol,
		Reason: reason,
		At:     p.now().UTC(),
	})
	p.log.Info().
		Str("symbol", sig.Symbol).
		Str("gate", gate).
		Str("reason", reason).
		Msg("signal rejected")
	return Outcome{Status: StatusRejected, Gate: gate, Reason: reason}
}

// dedupeCache remembers idempotency keys for one window. claim returns false
// when the key was already seen inside the window.
type dedupeCache struct {
	mu     sync.Mutex
	window time.Duration
	keys   map[string]time.Time
}

func newDedupeCache(window time.Duration) *dedupeCache {
	return &dedupeCache{window: window, keys: map[string]time.Time{}}
}

func (d *dedupeCache) claim(key string, now time.Time) bool {
	if key == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.keys {
		if now.Sub(at) > d.window {
			delete(d.keys, k)
		}
	}
	if at, ok := d.keys[key]; ok && now.Sub(at) <= d.window {
		return false
	}
	d.keys[key] = now
	return true
}

// release forgets a claimed key so the sender's retry is admitted again.
func (d *dedupeCache) release(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
}
