// Package session reacts to session invalidation signals from the auth collaborator.
//
// The auth side owns the Broadcaster; storefront components subscribe to it for their session
// and stop treating money-moving operations as safe once the session is invalidated.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/abgdnv/storefront/pkg/messaging/events"
)

// Listener is notified when its session is invalidated.
type Listener interface {
	SessionInvalidated(ev events.SessionInvalidatedEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev events.SessionInvalidatedEvent)

func (f ListenerFunc) SessionInvalidated(ev events.SessionInvalidatedEvent) {
	f(ev)
}

// Broadcaster fans out invalidation signals to the listeners of each session.
type Broadcaster struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string]map[uint64]Listener
	logger    *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[string]map[uint64]Listener),
		logger:    logger.With("component", "session"),
	}
}

// Subscribe registers l for sessionID and returns a function that removes it.
func (b *Broadcaster) Subscribe(sessionID string, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if b.listeners[sessionID] == nil {
		b.listeners[sessionID] = make(map[uint64]Listener)
	}
	b.listeners[sessionID][id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[sessionID], id)
			if len(b.listeners[sessionID]) == 0 {
				delete(b.listeners, sessionID)
			}
		})
	}
}

// Broadcast notifies the listeners of ev.SessionID, or every listener when it is empty.
// Listeners are called outside the lock and must not block.
func (b *Broadcaster) Broadcast(ctx context.Context, ev events.SessionInvalidatedEvent) int {
	b.mu.RLock()
	var targets []Listener
	if ev.SessionID == "" {
		for _, ls := range b.listeners {
			for _, l := range ls {
				targets = append(targets, l)
			}
		}
	} else {
		for _, l := range b.listeners[ev.SessionID] {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		l.SessionInvalidated(ev)
	}
	b.logger.InfoContext(ctx, "Session invalidated", "session_id", ev.SessionID, "reason", ev.Reason, "listeners", len(targets))
	return len(targets)
}
