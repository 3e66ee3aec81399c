package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Payload is the wire shape accepted on the webhook endpoint. It tolerates
// both field conventions the upstream alerting tools emit: the legacy
// ticker/signal/price names and the newer symbol/side/entry names with inline
// evidence metrics. Numeric fields may arrive as JSON numbers or strings.
type Payload struct {
	Secret string `json:"secret" validate:"required"`

	// Legacy convention
	Ticker     string      `json:"ticker,omitempty"`
	Signal     string      `json:"signal,omitempty"`
	Price      json.Number `json:"price,omitempty"`
	SetupType  string      `json:"setup_type,omitempty"`
	StopLoss   json.Number `json:"stop_loss,omitempty"`
	TakeProfit json.Number `json:"take_profit,omitempty"`

	// Newer convention
	Symbol string      `json:"symbol,omitempty"`
	Side   string      `json:"side,omitempty"`
	Entry  json.Number `json:"entry,omitempty"`
	Stop   json.Number `json:"stop,omitempty"`
	TP1    json.Number `json:"tp1,omitempty"`
	ZScore json.Number `json:"zScore,omitempty"`
	RsPct  json.Number `json:"rsPct,omitempty"`
	Rvol   json.Number `json:"rvol,omitempty"`

	// Common
	Source         string `json:"source,omitempty"`
	Notes          string `json:"notes,omitempty"`
	TS             string `json:"ts,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

var validate = validator.New()

// ValidationError reports a malformed payload. No intent is created for one.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Normalize validates the payload and folds the two conventions into one
// canonical Signal. The returned Signal is complete: symbol, side and a
// reference price are mandatory regardless of which convention supplied them.
func (p *Payload) Normalize(now time.Time) (Signal, error) {
	if err := validate.Struct(p); err != nil {
		return Signal{}, &ValidationError{Msg: "missing required fields"}
	}

	symbol := strings.ToUpper(strings.TrimSpace(firstOf(p.Symbol, p.Ticker)))
	if symbol == "" {
		return Signal{}, &ValidationError{Field: "symbol", Msg: "missing"}
	}

	side, err := normalizeSide(firstOf(p.Side, p.Signal))
	if err != nil {
		return Signal{}, err
	}

	price, ok := numValue(firstNum(p.Entry, p.Price))
	if !ok || price <= 0 {
		return Signal{}, &ValidationError{Field: "price", Msg: "missing or non-positive"}
	}

	sig := Signal{
		Symbol:         symbol,
		Side:           side,
		ReferencePrice: price,
		SetupTag:       firstOf(p.SetupType, p.Source),
		StopLoss:       numPtr(firstNum(p.Stop, p.StopLoss)),
		TakeProfit:     numPtr(firstNum(p.TP1, p.TakeProfit)),
		ZScore:         numPtr(p.ZScore),
		RelStrengthPct: numPtr(p.RsPct),
		RelVolume:      numPtr(p.Rvol),
		ReceivedAt:     now.UTC(),
		IdempotencyKey: p.IdempotencyKey,
	}
	if sig.IdempotencyKey == "" {
		sig.IdempotencyKey = DedupeKey(symbol, side, price, now)
	}
	return sig, nil
}

func normalizeSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy", "entry":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return "", &ValidationError{Field: "side", Msg: fmt.Sprintf("unrecognized value %q", raw)}
	}
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNum(vals ...json.Number) json.Number {
	for _, v := range vals {
		if v.String() != "" {
			return v
		}
	}
	return ""
}

func numValue(n json.Number) (float64, bool) {
	if n.String() == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func numPtr(n json.Number) *float64 {
	if f, ok := numValue(n); ok {
		return &f
	}
	return nil
}
