package regime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/observ"
)

// Indicators carries the macro series readings one refresh needs. A
// MacroSource fills it from whatever data vendor backs the deployment; tests
// supply fixed values.
type Indicators struct {
	VIX               float64 `json:"vix"`                 // front-month VIX
	VIX3M             float64 `json:"vix_3m"`              // three-month VIX
	HYSpreadBps       float64 `json:"hy_spread_bps"`       // high-yield OAS, basis points
	HYSpread10dChange float64 `json:"hy_spread_10d_change"` // 10-day change in OAS, basis points
	RealYield10Y      float64 `json:"real_yield_10y"`      // 10y TIPS yield, percent
	RealYield6moHigh  float64 `json:"real_yield_6mo_high"` // trailing 6-month high of the above
	NFCI              float64 `json:"nfci"`                // financial conditions index
	NFCI4wChange      float64 `json:"nfci_4w_change"`      // 4-week change
	ISMManufacturing  float64 `json:"ism_manufacturing"`   // manufacturing index level
	ISM3moChange      float64 `json:"ism_3mo_change"`      // 3-month change, points
}

// MacroSource supplies current macro indicator readings.
type MacroSource interface {
	Indicators(ctx context.Context) (Indicators, error)
}

// check is a single weighted regime indicator.
type check struct {
	name      string
	weight    int
	triggered func(Indicators) bool
}

// The canonical indicator set, highest weight first. Each contributes its
// weight to the score only when triggered.
var checks = []check{
	{"vix_backwardation", 3, func(m Indicators) bool {
		return m.VIX3M > 0 && m.VIX/m.VIX3M > 1.0
	}},
	{"hy_oas_spike", 3, func(m Indicators) bool {
		return m.HYSpread10dChange >= 75 || m.HYSpreadBps >= 500
	}},
	{"real_yield_breakout", 2, func(m Indicators) bool {
		return m.RealYield10Y >= m.RealYield6moHigh && m.RealYield10Y > 0
	}},
	{"nfci_tightening", 1, func(m Indicators) bool {
		return m.NFCI4wChange >= 0.20
	}},
	{"ism_deterioration", 1, func(m Indicators) bool {
		return m.ISMManufacturing < 48 && m.ISM3moChange <= -2
	}},
}

// Provider periodically recomputes the regime state from a MacroSource and
// serves immutable snapshots. A refresh failure keeps the previous snapshot;
// a snapshot older than MaxAge degrades to the conservative default.
type Provider struct {
	source   MacroSource
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.RWMutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// ProviderConfig configures refresh cadence and staleness tolerance.
type ProviderConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxAge          time.Duration `yaml:"max_age"`
}

// NewProvider builds a Provider; Start must be called to begin refreshing.
func NewProvider(source MacroSource, cfg ProviderConfig) *Provider {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 4 * cfg.RefreshInterval
	}
	return &Provider{
		source:   source,
		interval: cfg.RefreshInterval,
		maxAge:   cfg.MaxAge,
		now:      time.Now,
		log:      observ.Component("regime"),
		state:    DefaultState(),
	}
}

// Start launches the background refresh loop. The first refresh is done
// synchronously so the service never begins with an empty snapshot.
func (p *Provider) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.Refresh(ctx)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Refresh(ctx)
			}
		}
	}()
}

// Stop ends the refresh loop and waits for it to exit.
func (p *Provider) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// Refresh recomputes the state once. Transitions between bands are logged
// with before/after detail for audit.
func (p *Provider) Refresh(ctx context.Context) {
	m, err := p.source.Indicators(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("macro indicators unavailable, keeping previous regime")
		return
	}

	score := 0
	var alerts []string
	for _, c := range checks {
		if c.triggered(m) {
			score += c.weight
			alerts = append(alerts, c.name)
		}
	}
	next := paramsForScore(score, alerts, p.now().UTC())

	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()

	observ.RegimeScore.Set(float64(score))
	if prev.Band != next.Band {
		p.log.Info().
			Str("from", string(prev.Band)).
			Str("to", string(next.Band)).
			Int("prev_score", prev.Score).
			Int("score", next.Score).
			Strs("alerts", alerts).
			Msg("regime change")
	}
}

// Current returns the latest snapshot, or the conservative default when the
// snapshot has gone stale.
func (p *Provider) Current() State {
	p.mu.RLock()
	s := p.state
	p.mu.RUnlock()

	if s.UpdatedAt.IsZero() || p.now().Sub(s.UpdatedAt) > p.maxAge {
		return DefaultState()
	}
	return s
}

// StaticProvider always returns a fixed state. Used by tests and by
// deployments that pin a regime manually.
type StaticProvider struct{ State State }

func (s StaticProvider) Current() State { return s.State }

// Source abstracts anything that can answer "what is the regime right now".
type Source interface {
	Current() State
}
