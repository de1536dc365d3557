// Package storefront composes the per-session components: cart, delivery quote, checkout,
// order watchers and inventory ledger, keyed by the client's session id.
package storefront

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/checkout"
	"github.com/abgdnv/storefront/internal/delivery"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/inventory"
	"github.com/abgdnv/storefront/internal/kv"
	"github.com/abgdnv/storefront/internal/payment"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging"
)

// Backend is everything the session components call on the commerce backend.
type Backend interface {
	cart.Backend
	delivery.Backend
	inventory.Backend
	checkout.Backend
	payment.Backend
}

type Deps struct {
	Backend     Backend
	Slots       kv.Store
	Broadcaster *session.Broadcaster
	Publisher   messaging.Publisher
	Polling     config.PollingConfig
	ReturnURL   string
	Logger      *slog.Logger
	Now         func() time.Time
}

// Registry owns the sessions of the process. Background work started for a session runs
// under the registry's context and ends when the session is removed or the registry closed.
type Registry struct {
	deps     Deps
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NopPublisher{Logger: deps.Logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for id, creating it on first use.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, sferrors.ErrShuttingDown
	}
	if s, ok := r.sessions[id]; ok {
		s.touch(r.deps.Now())
		return s, nil
	}
	s := r.newSession(id)
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) newSession(id string) *Session {
	logger := r.deps.Logger.With("session_id", id)
	guard := session.NewGuard()
	cartStore := cart.NewStore(r.deps.Backend, r.deps.Slots, id, logger)
	quote := delivery.NewQuote(r.deps.Backend, cartStore, logger, delivery.WithClock(r.deps.Now))
	deps := checkout.Deps{
		SessionID: id,
		Backend:   r.deps.Backend,
		Cart:      cartStore,
		Quote:     quote,
		Guard:     guard,
		Publisher: r.deps.Publisher,
		ReturnURL: r.deps.ReturnURL,
		Logger:    logger,
		Now:       r.deps.Now,
	}
	clipboard := NewClipboard(r.deps.Slots, id)
	s := &Session{
		ID:        id,
		Cart:      cartStore,
		Quote:     quote,
		Inventory: inventory.NewLedger(r.deps.Backend, logger),
		Checkout:  checkout.NewOrchestrator(deps),
		Links:     checkout.NewManagerLinkIssuer(deps, clipboard),
		Clipboard: clipboard,
		Guard:     guard,
		registry:  r,
		logger:    logger,
		watchers:  make(map[string]*payment.Reconciler),
		lastSeen:  r.deps.Now(),
	}
	if r.deps.Broadcaster != nil {
		s.unsubscribe = r.deps.Broadcaster.Subscribe(id, guard)
	}
	return s
}

// Remove tears a session down, stopping its order watchers.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Sweep removes sessions not used for longer than idle and returns how many were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.deps.Now().Add(-idle)
	var stale []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.close()
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.deps.Logger.InfoContext(ctx, "Idle sessions removed", "count", n)
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session. The registry cannot be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	r.cancel()
	for _, s := range sessions {
		s.close()
	}
}

// Session is the storefront state of one client session.
type Session struct {
	ID        string
	Cart      *cart.Store
	Quote     *delivery.Quote
	Inventory *inventory.Ledger
	Checkout  *checkout.Orchestrator
	Links     *checkout.ManagerLinkIssuer
	Clipboard *Clipboard
	Guard     *session.Guard

	registry    *Registry
	logger      *slog.Logger
	unsubscribe func()

	mu       sync.Mutex
	watchers map[string]*payment.Reconciler
	offers   map[string]domain.DeliveryOffer
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Submit runs checkout and remembers the accepted offer for the order watcher.
func (s *Session) Submit(ctx context.Context, email string) (checkout.Result, error) {
	sel, selErr := s.Quote.Selection()
	res, err := s.Checkout.Submit(ctx, email)
	if res.OrderToken != "" && selErr == nil {
		s.mu.Lock()
		if s.offers == nil {
			s.offers = make(map[string]domain.DeliveryOffer)
		}
		s.offers[res.OrderToken] = sel.Offer
		s.mu.Unlock()
	}
	return res, err
}

// Watch returns the order watcher for token. A new watcher loads the order with ctx and then
// starts background polling under the registry's lifetime. A watcher interrupted by session
// invalidation is replaced, so polling resumes once the session is trusted again.
func (s *Session) Watch(ctx context.Context, token string) (*payment.Reconciler, error) {
	s.mu.Lock()
	if r, ok := s.watchers[token]; ok {
		if !r.Interrupted() {
			s.mu.Unlock()
			return r, nil
		}
		delete(s.watchers, token)
		defer r.Stop()
	}
	cfg := payment.Config{
		Token:     token,
		Schedule:  s.registry.deps.Polling,
		ReturnURL: s.registry.deps.ReturnURL,
	}
	if offer, ok := s.offers[token]; ok {
		cfg.Offer = &offer
	}
	r := payment.NewReconciler(cfg, s.registry.deps.Backend, s.Guard, s.logger)
	s.watchers[token] = r
	s.mu.Unlock()

	if _, err := r.Load(ctx); err != nil {
		s.mu.Lock()
		if s.watchers[token] == r {
			delete(s.watchers, token)
		}
		s.mu.Unlock()
		r.Stop()
		return nil, err
	}
	r.Start(s.registry.ctx)
	return r, nil
}

// Unwatch stops and forgets the watcher of token.
func (s *Session) Unwatch(token string) {
	s.mu.Lock()
	r, ok := s.watchers[token]
	delete(s.watchers, token)
	s.mu.Unlock()
	if ok {
		r.Stop()
	}
}

func (s *Session) close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]*payment.Reconciler)
	s.mu.Unlock()
	for _, r := range watchers {
		r.Stop()
	}
	s.logger.Debug("Session closed", "watchers", len(watchers))
}
