package approval

import (
	"context"
	"time"

	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/observ"
)

// Reaper expires pending intents that outlived their TTL, rejecting them so
// a stale signal cannot be approved into a market that has moved on. Opt-in:
// a zero TTL disables it entirely.
type Reaper struct {
	store    intent.Store
	notifier notify.Notifier
	ttl      time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewReaper(store intent.Store, notifier notify.Notifier, ttl time.Duration) *Reaper {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &Reaper{
		store:    store,
		notifier: notifier,
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	if r.ttl <= 0 {
		close(r.done)
		return
	}
	go r.loop()
}

func (r *Reaper) Stop() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.stop)
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	log := observ.Component("reaper")
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pending, err := r.store.ListPending(ctx)
		if err != nil {
			cancel()
			log.Error().Err(err).Msg("pending scan failed")
			continue
		}
		now := time.Now()
		for _, in := range pending {
			if now.Sub(in.CreatedAt) < r.ttl {
				continue
			}
			at := now.UTC()
			expired, changed, err := r.store.Transition(ctx, in.ID,
				[]intent.State{intent.StatePending}, intent.StateRejected,
				func(i *intent.Intent) { i.DecidedAt = &at })
			if err != nil {
				// A concurrent human decision won; nothing to expire.
				continue
			}
			if changed {
				observ.PendingIntents.Dec()
				ev := notify.FromIntent(notify.EventRejected, expired, at)
				ev.Reason = "pending intent expired"
				r.notifier.Publish(ev)
				log.Info().
					Str("intent_id", expired.ID).
					Str("symbol", expired.Signal.Symbol).
					Msg("pending intent expired")
			}
		}
		cancel()
	}
}
