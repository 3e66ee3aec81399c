package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// PaperBroker simulates a brokerage in process: orders are acknowledged with
// synthetic ids after a configurable latency. FailNext and FailAll let tests
// and dry runs exercise the failure paths deterministically.
type PaperBroker struct {
	latencyMin time.Duration
	latencyMax time.Duration
	random     *rand.Rand
	randMu     sync.Mutex

	seq      atomic.Int64
	failNext atomic.Bool
	failAll  atomic.Bool
	closed   atomic.Bool

	mu     sync.Mutex
	placed []OrderRequest
}

// PaperConfig sets the simulated acknowledgment latency window.
type PaperConfig struct {
	LatencyMsMin int `yaml:"latency_ms_min"`
	LatencyMsMax int `yaml:"latency_ms_max"`
}

func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.LatencyMsMin <= 0 {
		cfg.LatencyMsMin = 10
	}
	if cfg.LatencyMsMax < cfg.LatencyMsMin {
		cfg.LatencyMsMax = cfg.LatencyMsMin
	}
	return &PaperBroker{
		latencyMin: time.Duration(cfg.LatencyMsMin) * time.Millisecond,
		latencyMax: time.Duration(cfg.LatencyMsMax) * time.Millisecond,
		random:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FailNext makes the next Place return an error.
func (b *PaperBroker) FailNext() { b.failNext.Store(true) }

// FailAll makes every Place return an error until released.
func (b *PaperBroker) FailAll(on bool) { b.failAll.Store(on) }

func (b *PaperBroker) Place(ctx context.Context, req OrderRequest) (Confirmation, error) {
	if b.closed.Load() {
		return Confirmation{}, fmt.Errorf("paper broker: connection closed")
	}
	if req.Quantity <= 0 {
		return Confirmation{}, fmt.Errorf("paper broker: non-positive quantity %d", req.Quantity)
	}

	select {
	case <-time.After(b.latency()):
	case <-ctx.Done():
		return Confirmation{}, ctx.Err()
	}

	if b.failAll.Load() || b.failNext.Swap(false) {
		return Confirmation{}, fmt.Errorf("paper broker: simulated rejection for %s", req.Symbol)
	}

	b.mu.Lock()
	b.placed = append(b.placed, req)
	b.mu.Unlock()

	kind := "MKT"
	if req.Bracket() {
		kind = "BRK"
	}
	return Confirmation{
		OrderID:     fmt.Sprintf("PAPER-%s-%d", kind, b.seq.Add(1)),
		Bracket:     req.Bracket(),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (b *PaperBroker) Ping(context.Context) error {
	if b.closed.Load() {
		return fmt.Errorf("paper broker: connection closed")
	}
	return nil
}

func (b *PaperBroker) Close() error {
	b.closed.Store(true)
	return nil
}

// Placed returns every order acknowledged so far, for assertions.
func (b *PaperBroker) Placed() []OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OrderRequest, len(b.placed))
	copy(out, b.placed)
	return out
}

func (b *PaperBroker) latency() time.Duration {
	if b.latencyMax == b.latencyMin {
		return b.latencyMin
	}
	b.randMu.Lock()
	defer b.randMu.Unlock()
	return b.latencyMin + time.Duration(b.random.Int63n(int64(b.latencyMax-b.latencyMin)))
}
