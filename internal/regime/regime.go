package regime

import "time"

// Band classifies the macro backdrop into one of four risk postures.
type Band string

const (
	BandRiskOn     Band = "RISK_ON"
	BandNeutral    Band = "NEUTRAL"
	BandTightening Band = "TIGHTENING"
	BandDefensive  Band = "DEFENSIVE"
)

// State is an immutable snapshot of the current regime classification and the
// entry parameters derived from it. Consumers receive copies, never a live
// reference; the snapshot embedded in an intent at admission time is the one
// used for that intent forever after.
type State struct {
	Band            Band      `json:"band"`
	Score           int       `json:"score"`
	EntryZThreshold float64   `json:"entry_z_threshold"`
	SizeMultiplier  float64   `json:"size_multiplier"`
	ATRMultiplier   float64   `json:"atr_multiplier"`
	CooldownBars    int       `json:"cooldown_bars"`
	ActiveAlerts    []string  `json:"active_alerts,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultState is the conservative fallback used when no regime data exists
// or the snapshot is stale: full-size Risk-On with the base 2.0 z threshold.
func DefaultState() State {
	return paramsForScore(0, nil, time.Time{})
}

// paramsForScore maps a summed indicator score onto a band and its derived
// entry parameters. Cuts: 0-1 Risk-On, 2-3 Neutral, 4-5 Tightening, 6+ Defensive.
func paramsForScore(score int, alerts []string, at time.Time) State {
	s := State{Score: score, ActiveAlerts: alerts, UpdatedAt: at}
	switch {
	case score <= 1:
		s.Band = BandRiskOn
		s.EntryZThreshold = 2.0
		s.SizeMultiplier = 1.0
		s.ATRMultiplier = 1.0
		s.CooldownBars = 3
	case score <= 3:
		s.Band = BandNeutral
		s.EntryZThreshold = 2.25
		s.SizeMultiplier = 0.75
		s.ATRMultiplier = 0.9
		s.CooldownBars = 5
	case score <= 5:
		s.Band = BandTightening
		s.EntryZThreshold = 2.5
		s.SizeMultiplier = 0.5
		s.ATRMultiplier = 0.8
		s.CooldownBars = 8
	default:
		s.Band = BandDefensive
		s.EntryZThreshold = 3.0
		s.SizeMultiplier = 0.25
		s.ATRMultiplier = 0.7
		s.CooldownBars = 13
	}
	return s
}
