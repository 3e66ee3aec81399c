package notify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/signal"
)

func sampleIntent() intent.Intent {
	return intent.Intent{
		ID:    "01TESTINTENT00000000000000",
		Token: "secret-token",
		State: intent.StatePending,
		Signal: signal.Signal{
			Symbol:         "AAPL",
			Side:           signal.SideLong,
			ReferencePrice: 187.50,
		},
		Quantity: 12,
		Warnings: []string{"correlation: AAPL correlates with MSFT"},
	}
}

func TestFromIntentCarriesFields(t *testing.T) {
	in := sampleIntent()
	at := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	ev := FromIntent(EventPending, in, at)

	if ev.Type != EventPending {
		t.Errorf("type = %s, want %s", ev.Type, EventPending)
	}
	if ev.IntentID != in.ID {
		t.Errorf("intent id = %s, want %s", ev.IntentID, in.ID)
	}
	if ev.Symbol != "AAPL" || ev.Side != "long" {
		t.Errorf("symbol/side = %s/%s", ev.Symbol, ev.Side)
	}
	if ev.Price != 187.50 {
		t.Errorf("price = %v, want 187.50", ev.Price)
	}
	if ev.Quantity != 12 {
		t.Errorf("quantity = %d, want 12", ev.Quantity)
	}
	if len(ev.Warnings) != 1 {
		t.Errorf("warnings = %v", ev.Warnings)
	}
	if !ev.At.Equal(at) {
		t.Errorf("at = %v, want %v", ev.At, at)
	}
}

func TestFromIntentNeverExposesToken(t *testing.T) {
	in := sampleIntent()
	ev := FromIntent(EventPending, in, time.Now())

	if ev.TokenDigest == "" {
		t.Fatal("expected a token digest")
	}
	if ev.TokenDigest == in.Token {
		t.Fatal("event carries the raw token")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), in.Token) {
		t.Fatalf("serialized event contains the raw token: %s", data)
	}
}

func TestFromIntentExecutionFields(t *testing.T) {
	in := sampleIntent()
	in.State = intent.StateFailed
	in.Execution = &intent.ExecutionResult{Error: "simulated rejection"}

	ev := FromIntent(EventFailed, in, time.Now())
	if ev.Reason != "simulated rejection" {
		t.Errorf("reason = %q", ev.Reason)
	}

	in.State = intent.StateExecuted
	in.Execution = &intent.ExecutionResult{OrderID: "PAPER-BRK-1"}
	ev = FromIntent(EventExecuted, in, time.Now())
	if ev.OrderID != "PAPER-BRK-1" {
		t.Errorf("order id = %q", ev.OrderID)
	}
}

func TestMultiFansOutInOrder(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	m := Multi{a, b}

	m.Publish(Event{Type: EventPending, Symbol: "AAPL"})
	m.Publish(Event{Type: EventApproved, Symbol: "AAPL"})

	for name, r := range map[string]*Recorder{"first": a, "second": b} {
		if got := len(r.Events()); got != 2 {
			t.Errorf("%s sink saw %d events, want 2", name, got)
		}
		if r.CountOf(EventApproved) != 1 {
			t.Errorf("%s sink approved count = %d", name, r.CountOf(EventApproved))
		}
	}
	if a.Events()[0].Type != EventPending || a.Events()[1].Type != EventApproved {
		t.Errorf("events out of order: %v", a.Events())
	}
}

func TestOutboxAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "outbox.jsonl")
	o, err := NewOutbox(path)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}

	o.Publish(Event{Type: EventPending, Symbol: "AAPL", At: time.Now().UTC()})
	o.Publish(Event{Type: EventExecuted, Symbol: "AAPL", OrderID: "PAPER-MKT-1", At: time.Now().UTC()})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer f.Close()

	var entries []outboxEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e outboxEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad outbox line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("outbox has %d entries, want 2", len(entries))
	}
	if entries[0].Event.Type != EventPending || entries[1].Event.Type != EventExecuted {
		t.Errorf("entries = %+v", entries)
	}
	if entries[1].Event.OrderID != "PAPER-MKT-1" {
		t.Errorf("order id = %q", entries[1].Event.OrderID)
	}
	if entries[0].Written.IsZero() {
		t.Error("written timestamp missing")
	}
}
