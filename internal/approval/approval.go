// Package approval is the decision channel for pending intents. A decision
// arrives either from a human holding the one-time token, or from the canary
// path which auto-approves reduced-size probes.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/executor"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/observ"
)

// Op is a decision operator.
type Op string

const (
	OpApprove Op = "approve"
	OpReject  Op = "reject"
)

// ParseOp maps the wire form onto an operator.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpApprove, OpReject:
		return Op(s), nil
	default:
		return "", fmt.Errorf("unknown op %q", s)
	}
}

// Status reports what a decision did. StatusProcessing means the intent was
// approved and handed to the execution bridge; the order itself settles
// asynchronously.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusRejected   Status = "rejected"
)

// Outcome is the synchronous result of a decision.
type Outcome struct {
	Status Status
	Intent intent.Intent
}

// Channel resolves decisions against the intent store. All paths funnel
// through a single compare-and-swap per decision, so concurrent decisions on
// one intent produce exactly one winner; the loser sees intent.ErrConflict.
type Channel struct {
	store    intent.Store
	exec     *executor.Bridge
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewChannel(store intent.Store, exec *executor.Bridge, notifier notify.Notifier) *Channel {
	return &Channel{
		store:    store,
		exec:     exec,
		notifier: notifier,
		log:      observ.Component("approval"),
		now:      time.Now,
	}
}

// Decide resolves a token-bearing decision. The token is single-use: the
// store invalidates it in the same transition that leaves PENDING, so a
// replay of the same link gets intent.ErrNotFound.
//
// Errors: intent.ErrNotFound when the token matches nothing (unknown,
// already spent, or expired), intent.ErrConflict when the intent was decided
// between lookup and transition.
func (c *Channel) Decide(ctx context.Context, token string, op Op) (Outcome, error) {
	in, err := c.store.FindByToken(ctx, token)
	if err != nil {
		observ.Decisions.WithLabelValues(string(op), "not_found").Inc()
		return Outcome{}, err
	}
	out, err := c.decide(ctx, in.ID, op)
	if err != nil {
		observ.Decisions.WithLabelValues(string(op), "conflict").Inc()
		return Outcome{}, err
	}
	observ.Decisions.WithLabelValues(string(op), "ok").Inc()
	return out, nil
}

// AutoApprove is the canary path: the pipeline has already reduced the
// intent to probe size and asks for immediate approval, bypassing the token.
func (c *Channel) AutoApprove(ctx context.Context, id string) (Outcome, error) {
	out, err := c.decide(ctx, id, OpApprove)
	if err != nil {
		observ.Decisions.WithLabelValues("auto_approve", "conflict").Inc()
		return Outcome{}, err
	}
	observ.Decisions.WithLabelValues("auto_approve", "ok").Inc()
	return out, nil
}

func (c *Channel) decide(ctx context.Context, id string, op Op) (Outcome, error) {
	to := intent.StateApproved
	ev := notify.EventApproved
	status := StatusProcessing
	if op == OpReject {
		to = intent.StateRejected
		ev = notify.EventRejected
		status = StatusRejected
	}

	now := c.now().UTC()
	in, changed, err := c.store.Transition(ctx, id, []intent.State{intent.StatePending}, to,
		func(i *intent.Intent) {
			at := now
			i.DecidedAt = &at
		})
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		observ.PendingIntents.Dec()
		if ev == notify.EventApproved && in.Canary {
			ev = notify.EventAutoApproved
		}
		c.notifier.Publish(notify.FromIntent(ev, in, now))
		c.log.Info().
			Str("intent_id", in.ID).
			Str("symbol", in.Signal.Symbol).
			Str("op", string(op)).
			Bool("canary", in.Canary).
			Msg("intent decided")
		if op == OpApprove {
			c.exec.Dispatch(in.ID)
		}
	}
	// changed==false means the same decision already landed; replying with
	// the same outcome keeps the endpoint idempotent.
	return Outcome{Status: status, Intent: in}, nil
}
