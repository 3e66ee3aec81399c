// Package intent defines the durable record of a signal from admission
// through execution, and the store contract that guards its state machine.
package intent

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/signal"
)

// State is a node in the intent lifecycle. Transitions are monotonic: a
// state is never revisited.
//
//	PENDING -> APPROVED -> EXECUTING -> EXECUTED
//	        \> REJECTED              \> FAILED
type State string

const (
	StatePending   State = "PENDING"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateExecuting State = "EXECUTING"
	StateExecuted  State = "EXECUTED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateExecuted || s == StateFailed
}

// RiskParams captures the stop, target and computed size attached to an
// intent at admission.
type RiskParams struct {
	StopLoss   *float64          `json:"stop_loss,omitempty"`
	TakeProfit *float64          `json:"take_profit,omitempty"`
	Size       risk.SizeDecision `json:"size"`
}

// ExecutionResult is the terminal outcome recorded by the execution bridge.
// Exactly one of OrderID / Error is set: an executed intent always carries a
// broker identifier, a failed one never does.
type ExecutionResult struct {
	OrderID     string    `json:"order_id,omitempty"`
	Bracket     bool      `json:"bracket,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Intent is the central entity. The regime snapshot is copied in at
// admission and never re-read, so the decision stays reproducible; the token
// is valid for exactly one state-changing operation.
type Intent struct {
	ID        string           `json:"id"`
	Token     string           `json:"-"` // never serialized into audit records
	Signal    signal.Signal    `json:"signal"`
	Quantity  int              `json:"quantity"`
	Risk      RiskParams       `json:"risk"`
	Regime    regime.State     `json:"regime"`
	State     State            `json:"state"`
	Canary    bool             `json:"canary,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	DecidedAt *time.Time       `json:"decided_at,omitempty"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// TokenDigest is the opaque form of the token written to audit records:
// enough to correlate, useless to replay.
func (i Intent) TokenDigest() string {
	sum := sha256.Sum256([]byte(i.Token))
	return fmt.Sprintf("%x", sum[:8])
}

// Draft is the input to Store.Create; the store allocates id and token.
type Draft struct {
	Signal   signal.Signal
	Quantity int
	Risk     RiskParams
	Regime   regime.State
	Canary   bool
	Warnings []string
}
