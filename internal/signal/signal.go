package signal

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Side is the direction of a proposed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Signal is the canonical, immutable form of an inbound trade proposal.
// Both inbound payload conventions are normalized into this type at the HTTP
// boundary; nothing downstream ever sees the raw wire fields.
type Signal struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	ReferencePrice float64   `json:"reference_price"`
	SetupTag       string    `json:"setup_tag,omitempty"`
	StopLoss       *float64  `json:"stop_loss,omitempty"`
	TakeProfit     *float64  `json:"take_profit,omitempty"`
	ZScore         *float64  `json:"z_score,omitempty"`
	RelStrengthPct *float64  `json:"rs_pct,omitempty"`
	RelVolume      *float64  `json:"rvol,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Bracket reports whether the signal carries both a stop and a target, which
// makes the eventual order a bracket rather than a plain market entry.
func (s Signal) Bracket() bool {
	return s.StopLoss != nil && s.TakeProfit != nil
}

// DedupeKey derives a stable idempotency key for signals that arrive without
// one. Two identical proposals in the same minute hash to the same key.
func DedupeKey(symbol string, side Side, price float64, ts time.Time) string {
	data := fmt.Sprintf("%s-%s-%.4f-%d", symbol, side, price, ts.Unix()/60)
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum[:8])
}
