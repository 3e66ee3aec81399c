// Package executor is the execution bridge: it takes approved intents to the
// broker and records the terminal result, guaranteeing an intent is never
// submitted twice.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/broker"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/observ"
	"github.com/moltlabs/tradegate/internal/risk"
)

// Bridge submits approved intents. Submission runs off the request path:
// Dispatch returns immediately and the transition to a terminal state
// happens in a supervised goroutine. Failures are terminal, never retried,
// and every terminal transition emits exactly one notification.
type Bridge struct {
	store    intent.Store
	conn     *broker.ConnManager
	notifier notify.Notifier
	counters *risk.Counters
	log      zerolog.Logger

	timeout time.Duration
	wg      sync.WaitGroup
}

func New(store intent.Store, conn *broker.ConnManager, notifier notify.Notifier, counters *risk.Counters, submitTimeout time.Duration) *Bridge {
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	return &Bridge{
		store:    store,
		conn:     conn,
		notifier: notifier,
		counters: counters,
		log:      observ.Component("executor"),
		timeout:  submitTimeout,
	}
}

// Dispatch hands an approved intent to the bridge and returns immediately.
// The caller (the approval channel) must already hold an APPROVED intent;
// Dispatch's goroutine re-checks via compare-and-swap so a duplicate
// dispatch is harmless.
func (b *Bridge) Dispatch(id string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(id)
	}()
}

// Wait blocks until all in-flight executions settle. Used on shutdown so an
// order that is already at the broker still gets its terminal record.
func (b *Bridge) Wait() { b.wg.Wait() }

// run supervises one execution. A panic anywhere in the submission path
// still resolves the intent to FAILED instead of leaving it stuck in
// EXECUTING.
func (b *Bridge) run(id string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("intent_id", id).Interface("panic", r).Msg("execution panicked")
			b.fail(id, fmt.Sprintf("execution panicked: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.Execute(ctx, id); err != nil {
		b.log.Error().Err(err).Str("intent_id", id).Msg("execution error")
	}
}

// Execute performs one at-most-once submission. The APPROVED->EXECUTING
// compare-and-swap is the gate: only the caller that wins it talks to the
// broker, so two concurrent dispatches of the same intent produce one order.
func (b *Bridge) Execute(ctx context.Context, id string) error {
	in, changed, err := b.store.Transition(ctx, id, []intent.State{intent.StateApproved}, intent.StateExecuting, nil)
	if err != nil {
		if err == intent.ErrConflict {
			// Already terminal or still pending; nothing to do.
			return nil
		}
		return fmt.Errorf("claim intent %s: %w", id, err)
	}
	if !changed {
		// Another worker already owns the EXECUTING claim.
		return nil
	}

	req := broker.OrderRequest{
		Symbol:     in.Signal.Symbol,
		Side:       in.Signal.Side,
		Quantity:   in.Quantity,
		StopLoss:   in.Risk.StopLoss,
		TakeProfit: in.Risk.TakeProfit,
	}

	conf, err := b.conn.Submit(ctx, req)
	if err != nil {
		b.fail(id, err.Error())
		return nil
	}

	done, changed, err := b.store.Transition(ctx, id,
		[]intent.State{intent.StateExecuting}, intent.StateExecuted,
		func(i *intent.Intent) {
			i.Execution = &intent.ExecutionResult{
				OrderID:     conf.OrderID,
				Bracket:     conf.Bracket,
				CompletedAt: conf.SubmittedAt,
			}
		})
	if err != nil {
		return fmt.Errorf("record execution of %s: %w", id, err)
	}
	if changed {
		observ.Executions.WithLabelValues("executed").Inc()
		if b.counters != nil {
			b.counters.RecordExecution(done.Signal.SetupTag)
		}
		b.notifier.Publish(notify.FromIntent(notify.EventExecuted, done, time.Now()))
		b.log.Info().
			Str("intent_id", id).
			Str("order_id", conf.OrderID).
			Bool("bracket", conf.Bracket).
			Msg("order placed")
	}
	return nil
}

// fail moves the intent to FAILED from either EXECUTING or APPROVED (the
// latter covers a panic before the claim) and notifies once.
func (b *Bridge) fail(id, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done, changed, err := b.store.Transition(ctx, id,
		[]intent.State{intent.StateExecuting, intent.StateApproved}, intent.StateFailed,
		func(i *intent.Intent) {
			i.Execution = &intent.ExecutionResult{
				Error:       reason,
				CompletedAt: time.Now().UTC(),
			}
		})
	if err != nil {
		b.log.Error().Err(err).Str("intent_id", id).Msg("could not record failure")
		return
	}
	if changed {
		observ.Executions.WithLabelValues("failed").Inc()
		b.notifier.Publish(notify.FromIntent(notify.EventFailed, done, time.Now()))
	}
}
