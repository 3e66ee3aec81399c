package risk

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/observ"
)

// Chain evaluates gates in fixed priority order and short-circuits on the
// first hard failure, so identical inputs always produce the same rejection
// reason. Soft-gate warnings and degraded-mode notices are collected across
// the whole chain.
type Chain struct {
	gates []Gate
	log   zerolog.Logger
}

// Verdict is the chain's overall result for one signal.
type Verdict struct {
	Allowed  bool
	Gate     string // name of the rejecting gate, empty when allowed
	Reason   string
	Warnings []string
}

func NewChain(gates ...Gate) *Chain {
	sorted := make([]Gate, len(gates))
	copy(sorted, gates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{gates: sorted, log: observ.Component("gates")}
}

// Evaluate runs every gate until one denies. Degraded gates are logged with
// a dedicated event and metric so an operator can see a safety check running
// in fail-open mode.
func (c *Chain) Evaluate(gc GateContext) Verdict {
	v := Verdict{Allowed: true}
	for _, g := range c.gates {
		res := g.Evaluate(gc)
		if res.Degraded {
			observ.GateDegraded.WithLabelValues(g.Name()).Inc()
			c.log.Warn().
				Str("gate", g.Name()).
				Str("symbol", gc.Signal.Symbol).
				Str("detail", res.Warning).
				Msg("gate degraded, failure policy applied")
		}
		if res.Warning != "" {
			v.Warnings = append(v.Warnings, res.Warning)
		}
		if !res.Allowed {
			observ.GateRejections.WithLabelValues(g.Name()).Inc()
			v.Allowed = false
			v.Gate = g.Name()
			v.Reason = res.Reason
			return v
		}
	}
	return v
}

// Gates returns the chain's gates in evaluation order, for introspection.
func (c *Chain) Gates() []Gate { return c.gates }
