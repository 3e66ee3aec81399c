package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/moltlabs/tradegate/internal/observ"
)

// ConnConfig bounds the shared connection's lifecycle.
type ConnConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // tear down after this long unused
	MaxRetries  uint64        `yaml:"max_retries"`  // dial attempts per Acquire
}

func (c *ConnConfig) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// ConnManager owns the single shared broker connection: lazily dialed on
// first use, reused across submissions, re-dialed after failure, and torn
// down after sitting idle to bound credential exposure. All access is
// serialized through one mutex; submissions on the same connection do not
// interleave. A circuit breaker around the dial path stops a flapping
// gateway from absorbing every request in connect timeouts.
type ConnManager struct {
	dial Dialer
	cfg  ConnConfig
	log  zerolog.Logger

	mu       sync.Mutex
	conn     Broker
	lastUsed time.Time

	breaker *gobreaker.CircuitBreaker
	stopCh  chan struct{}
	once    sync.Once
}

func NewConnManager(dial Dialer, cfg ConnConfig) *ConnManager {
	cfg.defaults()
	m := &ConnManager{
		dial:   dial,
		cfg:    cfg,
		log:    observ.Component("broker"),
		stopCh: make(chan struct{}),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "broker-dial",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("dial breaker state change")
		},
	})
	go m.idleReaper()
	return m
}

// Submit places an order through the shared connection, dialing it first if
// needed. A submission error closes the connection so the next caller
// re-dials; the order itself is never retried here, since at-most-once is
// the execution bridge's contract.
func (m *ConnManager) Submit(ctx context.Context, req OrderRequest) (Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx); err != nil {
		return Confirmation{}, err
	}
	m.lastUsed = time.Now()

	conf, err := m.conn.Place(ctx, req)
	if err != nil {
		m.closeLocked()
		return Confirmation{}, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}
	return conf, nil
}

// Connected reports whether a live connection currently exists, without
// dialing one.
func (m *ConnManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close tears the connection down and stops the idle reaper.
func (m *ConnManager) Close() error {
	m.once.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

// ensureLocked dials if no live connection exists. Attempts are bounded by
// the dial timeout and retried with exponential backoff, all behind the
// circuit breaker. Callers must hold m.mu.
func (m *ConnManager) ensureLocked(ctx context.Context) error {
	if m.conn != nil {
		if err := m.conn.Ping(ctx); err == nil {
			return nil
		}
		m.log.Warn().Msg("broker connection stale, re-dialing")
		m.closeLocked()
	}

	_, err := m.breaker.Execute(func() (interface{}, error) {
		bo := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxRetries),
			ctx)
		return nil, backoff.Retry(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
			defer cancel()
			conn, err := m.dial(dialCtx)
			if err != nil {
				m.log.Warn().Err(err).Msg("broker dial failed")
				return err
			}
			m.conn = conn
			return nil
		}, bo)
	})
	if err != nil {
		return fmt.Errorf("broker unavailable: %w", err)
	}

	observ.BrokerConnected.Set(1)
	m.log.Info().Msg("broker connected")
	return nil
}

func (m *ConnManager) closeLocked() {
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close broker connection")
		}
		m.conn = nil
		observ.BrokerConnected.Set(0)
	}
}

// idleReaper tears down a connection that has not been used within the idle
// timeout.
func (m *ConnManager) idleReaper() {
	interval := m.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.conn != nil && time.Since(m.lastUsed) > m.cfg.IdleTimeout {
				m.log.Info().Dur("idle", time.Since(m.lastUsed)).Msg("closing idle broker connection")
				m.closeLocked()
			}
			m.mu.Unlock()
		}
	}
}
