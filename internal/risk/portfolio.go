package risk

// PortfolioSnapshot is the slice of external portfolio state the gates and
// the position sizer consume. It is captured once per admission decision.
type PortfolioSnapshot struct {
	Equity        float64 `json:"equity"`
	PeakEquity    float64 `json:"peak_equity"`
	OpenPositions int     `json:"open_positions"`
}

// DrawdownPct is the percentage decline from peak equity, zero when the
// account is at or above its peak.
func (p PortfolioSnapshot) DrawdownPct() float64 {
	if p.PeakEquity <= 0 || p.Equity >= p.PeakEquity {
		return 0
	}
	return (p.PeakEquity - p.Equity) / p.PeakEquity * 100
}

// PortfolioSource supplies the current snapshot. The broker adapter or a
// standalone tracker implements it.
type PortfolioSource interface {
	Snapshot() (PortfolioSnapshot, error)
}

// StaticPortfolio is a fixed-snapshot source for tests and dry runs.
type StaticPortfolio PortfolioSnapshot

func (s StaticPortfolio) Snapshot() (PortfolioSnapshot, error) {
	return PortfolioSnapshot(s), nil
}
