package risk

import (
	"math"
	"time"

	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/signal"
)

// Sizer computes the share quantity for an admitted signal. The base risk
// percentage is cut by four independent multipliers, each in (0,1]:
// market-wide volatility, earnings proximity, account drawdown, and the
// regime size multiplier. The composite is their product; a quantity that
// floors to zero means "skip".
type Sizer struct {
	BaseRiskPct float64 // fraction of equity risked per trade, e.g. 0.005

	Volatility VolatilitySource  // optional; nil means multiplier 1.0
	Earnings   EarningsProximity // optional
}

// VolatilitySource supplies a market-wide volatility reading (VIX-style
// level).
type VolatilitySource interface {
	Level() (float64, error)
}

// EarningsProximity answers how many days until a symbol's next earnings.
// Callers treat (0,false) as "no earnings nearby".
type EarningsProximity interface {
	DaysUntilEarnings(symbol string) (int, bool)
}

// SizeDecision records every factor that went into a quantity, so the
// persisted intent can explain itself.
type SizeDecision struct {
	Quantity             int     `json:"quantity"`
	NotionalUSD          float64 `json:"notional_usd"`
	BaseRiskPct          float64 `json:"base_risk_pct"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	EarningsMultiplier   float64 `json:"earnings_multiplier"`
	DrawdownMultiplier   float64 `json:"drawdown_multiplier"`
	RegimeMultiplier     float64 `json:"regime_multiplier"`
	Composite            float64 `json:"composite"`
}

// Size computes the final quantity for the signal given portfolio and regime
// snapshots. A volatility source failure defaults that multiplier to 1.0
// rather than blocking: sizing conservatism is handled by the other factors
// and the evidence gate has already passed.
func (s *Sizer) Size(sig signal.Signal, p PortfolioSnapshot, r regime.State) SizeDecision {
	d := SizeDecision{
		BaseRiskPct:          s.BaseRiskPct,
		VolatilityMultiplier: 1.0,
		EarningsMultiplier:   1.0,
		DrawdownMultiplier:   drawdownMultiplier(p.DrawdownPct()),
		RegimeMultiplier:     r.SizeMultiplier,
	}

	if s.Volatility != nil {
		if vix, err := s.Volatility.Level(); err == nil {
			d.VolatilityMultiplier = volatilityMultiplier(vix)
		}
	}
	if s.Earnings != nil {
		if days, ok := s.Earnings.DaysUntilEarnings(sig.Symbol); ok {
			d.EarningsMultiplier = earningsMultiplier(days)
		}
	}

	d.Composite = d.VolatilityMultiplier * d.EarningsMultiplier * d.DrawdownMultiplier * d.RegimeMultiplier

	riskUSD := p.Equity * s.BaseRiskPct * d.Composite
	if sig.ReferencePrice > 0 {
		d.Quantity = int(math.Floor(riskUSD / sig.ReferencePrice))
	}
	d.NotionalUSD = float64(d.Quantity) * sig.ReferencePrice
	return d
}

// volatilityMultiplier maps a VIX-style level onto a size cut:
// <20 full size, 20-25 three quarters, 25-30 half, above 30 a quarter.
func volatilityMultiplier(vix float64) float64 {
	switch {
	case vix > 30:
		return 0.25
	case vix > 25:
		return 0.50
	case vix > 20:
		return 0.75
	default:
		return 1.0
	}
}

// earningsMultiplier halves size inside the ±7 day earnings window.
func earningsMultiplier(daysUntil int) float64 {
	if -7 <= daysUntil && daysUntil <= 7 {
		return 0.5
	}
	return 1.0
}

// drawdownMultiplier keeps full size below 5% drawdown, halves it at 10%,
// and interpolates linearly in between.
func drawdownMultiplier(ddPct float64) float64 {
	switch {
	case ddPct >= 10:
		return 0.5
	case ddPct >= 5:
		return 1.0 - (ddPct-5)*0.1
	default:
		return 1.0
	}
}

// CalendarProximity adapts a calendar.EarningsSource-style lookup into an
// EarningsProximity using a fixed clock function.
type CalendarProximity struct {
	Lookup func(symbol string) (*time.Time, error)
	Now    func() time.Time
}

func (c CalendarProximity) DaysUntilEarnings(symbol string) (int, bool) {
	if c.Lookup == nil {
		return 0, false
	}
	next, err := c.Lookup(symbol)
	if err != nil || next == nil {
		return 0, false
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return int(next.Sub(now()).Hours() / 24), true
}
