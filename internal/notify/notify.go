// Package notify fans intent lifecycle events out to sinks. The core fires
// an event at every state transition; formatting and delivery to humans
// (chat, email) is a collaborator's concern behind the Notifier interface.
package notify

import (
	"time"

	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/observ"
)

// EventType names the lifecycle moment an event describes.
type EventType string

const (
	EventPending           EventType = "intent_pending"
	EventAutoApproved      EventType = "intent_auto_approved"
	EventApproved          EventType = "intent_approved"
	EventRejected          EventType = "intent_rejected"
	EventExecuted          EventType = "intent_executed"
	EventFailed            EventType = "intent_failed"
	EventAdmissionRejected EventType = "signal_rejected"
)

// Event is one lifecycle notification. TokenDigest is the opaque token hash,
// never the token itself.
type Event struct {
	Type        EventType    `json:"type"`
	IntentID    string       `json:"intent_id,omitempty"`
	TokenDigest string       `json:"token_digest,omitempty"`
	Symbol      string       `json:"symbol"`
	Side        string       `json:"side,omitempty"`
	Price       float64      `json:"price,omitempty"`
	State       intent.State `json:"state,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	OrderID     string       `json:"order_id,omitempty"`
	Quantity    int          `json:"quantity,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	At          time.Time    `json:"at"`
}

// Notifier receives lifecycle events. Publish must not block the caller for
// long; slow delivery belongs inside the sink.
type Notifier interface {
	Publish(ev Event)
}

// Multi fans one event out to several sinks in order.
type Multi []Notifier

func (m Multi) Publish(ev Event) {
	observ.NotificationsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, n := range m {
		n.Publish(ev)
	}
}

// FromIntent builds the common event fields for an intent.
func FromIntent(t EventType, in intent.Intent, at time.Time) Event {
	ev := Event{
		Type:        t,
		IntentID:    in.ID,
		TokenDigest: in.TokenDigest(),
		Symbol:      in.Signal.Symbol,
		Side:        string(in.Signal.Side),
		Price:       in.Signal.ReferencePrice,
		State:       in.State,
		Quantity:    in.Quantity,
		Warnings:    in.Warnings,
		At:          at.UTC(),
	}
	if in.Execution != nil {
		ev.OrderID = in.Execution.OrderID
		ev.Reason = in.Execution.Error
	}
	return ev
}
