package signal

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodePayload(t *testing.T, raw string) Payload {
	t.Helper()
	var p Payload
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func TestNormalizeLegacyConvention(t *testing.T) {
	p := decodePayload(t, `{
		"secret": "s3cret",
		"ticker": "aapl",
		"signal": "buy",
		"price": "231.50",
		"setup_type": "breakout",
		"stop_loss": 228.0,
		"take_profit": 240.0
	}`)

	now := time.Date(2026, 3, 2, 14, 31, 0, 0, time.UTC)
	sig, err := p.Normalize(now)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sig.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", sig.Symbol)
	}
	if sig.Side != SideLong {
		t.Errorf("side = %q, want long", sig.Side)
	}
	if sig.ReferencePrice != 231.50 {
		t.Errorf("price = %v, want 231.50", sig.ReferencePrice)
	}
	if sig.SetupTag != "breakout" {
		t.Errorf("setup tag = %q", sig.SetupTag)
	}
	if !sig.Bracket() {
		t.Error("expected bracket with both stop and target")
	}
	if sig.IdempotencyKey == "" {
		t.Error("expected derived idempotency key")
	}
}

func TestNormalizeNewerConvention(t *testing.T) {
	p := decodePayload(t, `{
		"secret": "s3cret",
		"symbol": "NVDA",
		"side": "short",
		"entry": 880.25,
		"stop": 900,
		"tp1": 840,
		"zScore": "2.6",
		"rsPct": 0.31,
		"rvol": 1.8,
		"idempotency_key": "abc-123"
	}`)

	sig, err := p.Normalize(time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sig.Side != SideShort {
		t.Errorf("side = %q, want short", sig.Side)
	}
	if sig.ZScore == nil || *sig.ZScore != 2.6 {
		t.Errorf("zScore = %v, want 2.6", sig.ZScore)
	}
	if sig.RelStrengthPct == nil || *sig.RelStrengthPct != 0.31 {
		t.Errorf("rsPct = %v, want 0.31", sig.RelStrengthPct)
	}
	if sig.RelVolume == nil || *sig.RelVolume != 1.8 {
		t.Errorf("rvol = %v, want 1.8", sig.RelVolume)
	}
	if sig.IdempotencyKey != "abc-123" {
		t.Errorf("idempotency key = %q, want abc-123", sig.IdempotencyKey)
	}
}

func TestNormalizeRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing secret", `{"ticker":"AAPL","signal":"buy","price":100}`},
		{"missing symbol", `{"secret":"x","signal":"buy","price":100}`},
		{"unknown side", `{"secret":"x","ticker":"AAPL","signal":"hold","price":100}`},
		{"missing price", `{"secret":"x","ticker":"AAPL","signal":"buy"}`},
		{"negative price", `{"secret":"x","ticker":"AAPL","signal":"buy","price":-5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := decodePayload(t, tc.raw)
			if _, err := p.Normalize(time.Now()); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormalizeSideAliases(t *testing.T) {
	cases := map[string]Side{
		"buy":   SideLong,
		"LONG":  SideLong,
		"entry": SideLong,
		"sell":  SideShort,
		"Short": SideShort,
	}
	for raw, want := range cases {
		got, err := normalizeSide(raw)
		if err != nil {
			t.Errorf("normalizeSide(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("normalizeSide(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDedupeKeyMinuteBucket(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 31, 5, 0, time.UTC)

	a := DedupeKey("AAPL", SideLong, 231.5, base)
	b := DedupeKey("AAPL", SideLong, 231.5, base.Add(30*time.Second))
	if a != b {
		t.Error("same proposal within the minute should share a key")
	}

	c := DedupeKey("AAPL", SideLong, 231.5, base.Add(2*time.Minute))
	if a == c {
		t.Error("different minute should yield a different key")
	}
	if d := DedupeKey("MSFT", SideLong, 231.5, base); d == a {
		t.Error("different symbol should yield a different key")
	}
}
