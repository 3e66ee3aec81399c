// Package sector maps symbols to sectors and counts open positions per
// sector. The ledger is rebuilt from the position source for every admission
// decision and never cached past it, so a fill that lands between two
// decisions is always visible to the second one.
package sector

import "strings"

// Position is an open holding as reported by the external position source.
type Position struct {
	Symbol   string
	Quantity int
}

// PositionSource exposes currently open positions. The broker adapter or the
// portfolio tracker implements it; tests use a slice.
type PositionSource interface {
	OpenPositions() ([]Position, error)
}

// Classifier resolves a symbol to its sector name. Unmapped symbols resolve
// to "Unknown", which still participates in concentration counting so an
// unclassified position is not a free pass.
type Classifier struct {
	bySymbol map[string]string
}

func NewClassifier(bySymbol map[string]string) *Classifier {
	m := make(map[string]string, len(bySymbol))
	for sym, sec := range bySymbol {
		m[strings.ToUpper(sym)] = sec
	}
	return &Classifier{bySymbol: m}
}

func (c *Classifier) Sector(symbol string) string {
	if s, ok := c.bySymbol[strings.ToUpper(symbol)]; ok {
		return s
	}
	return "Unknown"
}

// Ledger is a point-in-time view of sector occupancy.
type Ledger struct {
	classifier *Classifier
	counts     map[string]int
	symbols    map[string][]string
}

// Snapshot builds a ledger from current open positions. Zero-quantity
// entries are skipped.
func Snapshot(c *Classifier, src PositionSource) (Ledger, error) {
	positions, err := src.OpenPositions()
	if err != nil {
		return Ledger{}, err
	}
	l := Ledger{
		classifier: c,
		counts:     map[string]int{},
		symbols:    map[string][]string{},
	}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		sec := c.Sector(p.Symbol)
		l.counts[sec]++
		l.symbols[sec] = append(l.symbols[sec], strings.ToUpper(p.Symbol))
	}
	return l, nil
}

// Sector resolves a symbol through the ledger's classifier.
func (l Ledger) Sector(symbol string) string {
	if l.classifier == nil {
		return "Unknown"
	}
	return l.classifier.Sector(symbol)
}

// Count returns how many open positions occupy the sector.
func (l Ledger) Count(sectorName string) int { return l.counts[sectorName] }

// Occupants returns the symbols currently holding the sector.
func (l Ledger) Occupants(sectorName string) []string { return l.symbols[sectorName] }

// Symbols returns every open-position symbol in the ledger, across sectors.
func (l Ledger) Symbols() []string {
	var all []string
	for _, syms := range l.symbols {
		all = append(all, syms...)
	}
	return all
}
