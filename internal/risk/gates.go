package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/moltlabs/tradegate/internal/calendar"
	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/sector"
	"github.com/moltlabs/tradegate/internal/signal"
)

// GateContext carries everything a gate may consult. All fields are
// snapshots taken at the start of the admission decision: given identical
// context, every gate is deterministic.
type GateContext struct {
	Signal    signal.Signal
	Counters  CountersView
	Regime    regime.State
	Sectors   sector.Ledger
	Portfolio PortfolioSnapshot
	Now       time.Time
}

// GateResult is a single gate's verdict. Degraded marks a gate that could
// not complete its check and applied its failure policy instead; the chain
// logs those distinctly so a silently disabled safety check is visible.
type GateResult struct {
	Allowed  bool
	Reason   string
	Warning  string
	Degraded bool
}

func allow() GateResult                  { return GateResult{Allowed: true} }
func deny(reason string) GateResult      { return GateResult{Allowed: false, Reason: reason} }
func warnOnly(warning string) GateResult { return GateResult{Allowed: true, Warning: warning} }

// Gate is one pass/fail policy check. Gates are independent of one another
// in result but are evaluated in Priority order so the first failure
// determines the rejection reason.
type Gate interface {
	Name() string
	Priority() int // lower runs first
	Evaluate(gc GateContext) GateResult
}

// KillSwitchGate rejects everything while the process-wide pause is set.
// Highest priority: it supersedes every other consideration.
type KillSwitchGate struct {
	Switch *KillSwitch
}

func (g *KillSwitchGate) Name() string  { return "kill_switch" }
func (g *KillSwitchGate) Priority() int { return 1 }

func (g *KillSwitchGate) Evaluate(GateContext) GateResult {
	if g.Switch != nil && g.Switch.Engaged() {
		return deny("trading paused (kill switch active)")
	}
	return allow()
}

// PnLSource lets the daily-loss gate consult an authority other than the
// in-process counters (e.g. a broker-reconciled tracker that can fail).
type PnLSource interface {
	DailyPnL() (float64, error)
}

// DailyLossGate is the circuit breaker: once today's realized+estimated loss
// exceeds the dollar limit, no new intents are admitted. If the P&L source
// itself fails the gate fails open so a broken check cannot freeze trading,
// but the result is flagged Degraded and surfaced as a warning.
type DailyLossGate struct {
	LimitUSD float64
	Source   PnLSource // optional; nil means use the context counters
}

func (g *DailyLossGate) Name() string  { return "daily_loss" }
func (g *DailyLossGate) Priority() int { return 2 }

func (g *DailyLossGate) Evaluate(gc GateContext) GateResult {
	if g.LimitUSD <= 0 {
		return allow()
	}
	pnl := gc.Counters.DailyPnL()
	if g.Source != nil {
		v, err := g.Source.DailyPnL()
		if err != nil {
			return GateResult{
				Allowed:  true,
				Degraded: true,
				Warning:  fmt.Sprintf("daily-loss check unavailable, failing open: %v", err),
			}
		}
		pnl = v
	}
	if pnl < -g.LimitUSD {
		return deny(fmt.Sprintf("daily loss limit exceeded: $%.2f > $%.2f", -pnl, g.LimitUSD))
	}
	return allow()
}

// WindowGate rejects signals outside the configured local-time interval.
type WindowGate struct {
	Location *time.Location
	Start    WindowEdge
	End      WindowEdge
}

// WindowEdge is a wall-clock boundary, e.g. {9, 45}.
type WindowEdge struct {
	Hour, Minute int
}

func (e WindowEdge) String() string { return fmt.Sprintf("%02d:%02d", e.Hour, e.Minute) }

func (g *WindowGate) Name() string  { return "trading_window" }
func (g *WindowGate) Priority() int { return 3 }

func (g *WindowGate) Evaluate(gc GateContext) GateResult {
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	now := gc.Now.In(loc)
	minutes := now.Hour()*60 + now.Minute()
	start := g.Start.Hour*60 + g.Start.Minute
	end := g.End.Hour*60 + g.End.Minute
	if minutes < start || minutes > end {
		return deny(fmt.Sprintf("outside trading window %s-%s", g.Start, g.End))
	}
	return allow()
}

// WatchlistGate rejects symbols that are not in the active tradeable
// universe.
type WatchlistGate struct {
	symbols map[string]struct{}
}

func NewWatchlistGate(symbols []string) *WatchlistGate {
	m := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = struct{}{}
	}
	return &WatchlistGate{symbols: m}
}

func (g *WatchlistGate) Name() string  { return "watchlist" }
func (g *WatchlistGate) Priority() int { return 4 }

func (g *WatchlistGate) Evaluate(gc GateContext) GateResult {
	if _, ok := g.symbols[strings.ToUpper(gc.Signal.Symbol)]; !ok {
		return deny(fmt.Sprintf("symbol %s not in watchlist", gc.Signal.Symbol))
	}
	return allow()
}

// BlackoutGate rejects symbols near their earnings date and everything on
// macro-event days. A failed earnings lookup fails open with a degraded
// warning; the economic calendar is static data and cannot fail.
type BlackoutGate struct {
	Calendar *calendar.Calendar
}

func (g *BlackoutGate) Name() string  { return "event_blackout" }
func (g *BlackoutGate) Priority() int { return 5 }

func (g *BlackoutGate) Evaluate(gc GateContext) GateResult {
	if g.Calendar == nil {
		return allow()
	}
	if blocked, reason := g.Calendar.EconomicBlackout(); blocked {
		return deny("economic event blackout: " + reason)
	}
	blocked, reason, err := g.Calendar.EarningsBlackout(gc.Signal.Symbol)
	if err != nil {
		return GateResult{
			Allowed:  true,
			Degraded: true,
			Warning:  fmt.Sprintf("earnings check unavailable, failing open: %v", err),
		}
	}
	if blocked {
		return deny(reason)
	}
	return allow()
}

// EvidenceGate enforces the statistical admission thresholds, regime-adjusted
// for the z-score. Missing evidence rejects: admitting a signal that cannot
// prove its edge is unsafe, so this gate fails closed.
type EvidenceGate struct {
	LongRSMin    float64 // relative-strength percentile floor for longs
	ShortRSMax   float64 // and ceiling for shorts
	RelVolumeMin float64
}

func (g *EvidenceGate) Name() string  { return "evidence" }
func (g *EvidenceGate) Priority() int { return 6 }

func (g *EvidenceGate) Evaluate(gc GateContext) GateResult {
	s := gc.Signal
	if s.RelStrengthPct == nil || s.RelVolume == nil || s.ZScore == nil {
		return deny("signal evidence unavailable (rsPct, rvol, zScore required)")
	}

	rs := *s.RelStrengthPct
	if s.Side == signal.SideLong && rs < g.LongRSMin {
		return deny(fmt.Sprintf("rsPct %.2f < %.2f", rs, g.LongRSMin))
	}
	if s.Side == signal.SideShort && rs > g.ShortRSMax {
		return deny(fmt.Sprintf("rsPct %.2f > %.2f", rs, g.ShortRSMax))
	}

	if *s.RelVolume < g.RelVolumeMin {
		return deny(fmt.Sprintf("rvol %.2f < %.2f", *s.RelVolume, g.RelVolumeMin))
	}

	if z := math.Abs(*s.ZScore); z < gc.Regime.EntryZThreshold {
		return deny(fmt.Sprintf("zScore %.2f < %.2f (%s regime threshold)",
			z, gc.Regime.EntryZThreshold, gc.Regime.Band))
	}
	return allow()
}

// SectorGate rejects a signal whose sector is already at the concurrent
// position limit.
type SectorGate struct {
	MaxPerSector int
}

func (g *SectorGate) Name() string  { return "sector_concentration" }
func (g *SectorGate) Priority() int { return 7 }

func (g *SectorGate) Evaluate(gc GateContext) GateResult {
	limit := g.MaxPerSector
	if limit <= 0 {
		limit = 1
	}
	sec := gc.Sectors.Sector(gc.Signal.Symbol)
	if n := gc.Sectors.Count(sec); n >= limit {
		return deny(fmt.Sprintf("sector %q already at limit (%d/%d): %s",
			sec, n, limit, strings.Join(gc.Sectors.Occupants(sec), ",")))
	}
	return allow()
}

// CorrelationSource computes pairwise return correlations between a candidate
// and current holdings.
type CorrelationSource interface {
	Correlations(symbol string, holdings []string) (map[string]float64, error)
}

// CorrelationGate is soft: it annotates the intent with a warning when the
// candidate is highly correlated with an existing holding, and never blocks.
// A failed computation also never blocks.
type CorrelationGate struct {
	Source         CorrelationSource
	MaxCorrelation float64 // warn above this absolute value; default 0.7
}

func (g *CorrelationGate) Name() string  { return "correlation" }
func (g *CorrelationGate) Priority() int { return 8 }

func (g *CorrelationGate) Evaluate(gc GateContext) GateResult {
	if g.Source == nil {
		return allow()
	}
	limit := g.MaxCorrelation
	if limit <= 0 {
		limit = 0.7
	}

	corrs, err := g.Source.Correlations(gc.Signal.Symbol, gc.Sectors.Symbols())
	if err != nil {
		return GateResult{
			Allowed:  true,
			Degraded: true,
			Warning:  fmt.Sprintf("correlation check unavailable: %v", err),
		}
	}
	var warnings []string
	for held, c := range corrs {
		if math.Abs(c) > limit {
			warnings = append(warnings, fmt.Sprintf("%s highly correlated with %s: %.2f", gc.Signal.Symbol, held, c))
		}
	}
	if len(warnings) > 0 {
		return warnOnly(strings.Join(warnings, "; "))
	}
	return allow()
}
