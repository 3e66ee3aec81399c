package intent

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Store errors. FindByToken deliberately returns the same ErrNotFound for
// "never existed" and "already spent", so an outside caller learns nothing
// about valid tokens from probing.
var (
	ErrNotFound = errors.New("intent not found")
	ErrConflict = errors.New("intent state conflict")
)

// Store persists intents and guards their state machine. Transition is the
// system's single most important correctness property: a compare-and-swap
// that fails with ErrConflict when the current state is not in from, and
// reports changed=false (no error, no side effects) when the intent is
// already in to, because a duplicate broker ack must not produce a second
// notification.
type Store interface {
	// Create allocates a fresh id and one-time token, persists the intent
	// in StatePending, and returns it.
	Create(ctx context.Context, d Draft) (Intent, error)

	// Get returns the intent by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Intent, error)

	// FindByToken resolves a one-time token in O(1), or ErrNotFound.
	FindByToken(ctx context.Context, token string) (Intent, error)

	// Transition atomically moves the intent from one of the from states to
	// to, applying mutate (may be nil) to the intent under the same lock.
	Transition(ctx context.Context, id string, from []State, to State, mutate func(*Intent)) (Intent, bool, error)

	// ListPending enumerates intents awaiting a decision, oldest first.
	ListPending(ctx context.Context) ([]Intent, error)

	Close() error
}

// newID allocates a lexicographically sortable intent id.
func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// newToken allocates the single-use approval token. A v4 UUID is unlinkable
// from the ULID id by construction: they share no input.
func newToken() string {
	return uuid.NewString()
}

func stateIn(s State, set []State) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
