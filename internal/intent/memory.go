package intent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps intents in process memory. Locking is per intent: the
// outer map lock is held only long enough to resolve the entry, so two
// decisions on unrelated intents never serialize against each other.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memEntry
	byToken map[string]string // token -> id

	now func() time.Time
}

type memEntry struct {
	mu     sync.Mutex
	intent Intent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    map[string]*memEntry{},
		byToken: map[string]string{},
		now:     time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Create(_ context.Context, d Draft) (Intent, error) {
	in := Intent{
		ID:        newID(),
		Token:     newToken(),
		Signal:    d.Signal,
		Quantity:  d.Quantity,
		Risk:      d.Risk,
		Regime:    d.Regime,
		Canary:    d.Canary,
		Warnings:  d.Warnings,
		State:     StatePending,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.byID[in.ID] = &memEntry{intent: in}
	s.byToken[in.Token] = in.ID
	s.mu.Unlock()
	return in, nil
}

func (s *MemoryStore) entry(id string) (*memEntry, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	return e, ok
}

func (s *MemoryStore) Get(_ context.Context, id string) (Intent, error) {
	e, ok := s.entry(id)
	if !ok {
		return Intent{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent, nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (Intent, error) {
	s.mu.RLock()
	id, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return Intent{}, ErrNotFound
	}
	return s.Get(context.Background(), id)
}

func (s *MemoryStore) Transition(_ context.Context, id string, from []State, to State, mutate func(*Intent)) (Intent, bool, error) {
	e, ok := s.entry(id)
	if !ok {
		return Intent{}, false, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Idempotent replay: already there, nothing to do, nothing to notify.
	if e.intent.State == to {
		return e.intent, false, nil
	}
	if !stateIn(e.intent.State, from) {
		return Intent{}, false, ErrConflict
	}

	e.intent.State = to
	if e.intent.DecidedAt == nil && (to == StateApproved || to == StateRejected) {
		t := s.now().UTC()
		e.intent.DecidedAt = &t
	}
	if mutate != nil {
		mutate(&e.intent)
	}

	// Leaving PENDING spends the token: invalidated atomically with the
	// transition, under the same entry lock.
	if to != StatePending {
		s.mu.Lock()
		delete(s.byToken, e.intent.Token)
		s.mu.Unlock()
	}
	return e.intent, true, nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]Intent, error) {
	s.mu.RLock()
	entries := make([]*memEntry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var pending []Intent
	for _, e := range entries {
		e.mu.Lock()
		if e.intent.State == StatePending {
			pending = append(pending, e.intent)
		}
		e.mu.Unlock()
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *MemoryStore) Close() error { return nil }
