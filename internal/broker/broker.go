// Package broker abstracts order submission. The core needs exactly this
// much from a brokerage: place an order, get an order id or an error.
// Contract qualification, option math and fill accounting live behind the
// implementations.
package broker

import (
	"context"
	"time"

	"github.com/moltlabs/tradegate/internal/signal"
)

// OrderRequest is a single entry order. When both StopLoss and TakeProfit
// are set the broker is expected to place a bracket (entry + stop + target)
// as one protected unit.
type OrderRequest struct {
	Symbol     string
	Side       signal.Side
	Quantity   int
	StopLoss   *float64
	TakeProfit *float64
}

// Bracket reports whether the request carries both protective legs.
func (r OrderRequest) Bracket() bool { return r.StopLoss != nil && r.TakeProfit != nil }

// Confirmation is the broker's acknowledgment of a placed order.
type Confirmation struct {
	OrderID     string
	Bracket     bool
	SubmittedAt time.Time
}

// Broker is one live connection to a brokerage.
type Broker interface {
	// Place submits the order. Once Place returns without error the order
	// is live at the broker and cannot be silently revoked by this system.
	Place(ctx context.Context, req OrderRequest) (Confirmation, error)

	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	Close() error
}

// Dialer establishes a new broker connection. ConnManager owns the
// lifecycle; implementations should respect the context deadline.
type Dialer func(ctx context.Context) (Broker, error)
