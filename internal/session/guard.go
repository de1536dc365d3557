package session

import (
	"fmt"
	"sync"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

// Guard tracks whether one session may still start money-moving operations.
//
// Every invalidation bumps the epoch. An Attempt remembers the epoch it started in,
// so an operation can tell whether the session was invalidated while it was in flight.
type Guard struct {
	mu          sync.Mutex
	epoch       uint64
	invalidated bool
	reason      string
	signal      chan struct{}
}

func NewGuard() *Guard {
	return &Guard{signal: make(chan struct{})}
}

var _ Listener = (*Guard)(nil)

// Attempt is one money-moving operation started under a Guard.
type Attempt struct {
	guard *Guard
	epoch uint64
}

// Begin starts an attempt. It fails with ErrReauthRequired while the session is invalidated.
func (g *Guard) Begin() (Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.invalidated {
		return Attempt{}, fmt.Errorf("%w: %s", sferrors.ErrReauthRequired, g.reason)
	}
	return Attempt{guard: g, epoch: g.epoch}, nil
}

// Check fails with ErrSessionInvalidated if the session was invalidated after the attempt began.
func (a Attempt) Check() error {
	if a.guard == nil {
		return nil
	}
	a.guard.mu.Lock()
	defer a.guard.mu.Unlock()
	if a.guard.epoch != a.epoch {
		return sferrors.ErrSessionInvalidated
	}
	return nil
}

// SessionInvalidated marks the session invalidated and wakes everyone waiting on Signal.
func (g *Guard) SessionInvalidated(ev events.SessionInvalidatedEvent) {
	g.Invalidate(ev.Reason)
}

func (g *Guard) Invalidate(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
	g.reason = reason
	if !g.invalidated {
		g.invalidated = true
		close(g.signal)
	}
}

// Reauthenticated allows new attempts again. Attempts begun before the invalidation stay invalid.
func (g *Guard) Reauthenticated() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.invalidated {
		return
	}
	g.invalidated = false
	g.reason = ""
	g.signal = make(chan struct{})
}

func (g *Guard) Invalidated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.invalidated
}

// Signal returns a channel closed on the next invalidation.
func (g *Guard) Signal() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signal
}
