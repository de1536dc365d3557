// Package payment converges the storefront's view of an order with the backend by polling,
// and starts payments for orders that are not settled yet.
//
// There is no server push. A Reconciler polls on a bounded schedule from a single goroutine
// that is started once and stopped once; a stopped Reconciler issues no further requests.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Backend interface {
	OrderByToken(ctx context.Context, token string) (domain.Order, error)
	RefreshPayment(ctx context.Context, token string) (domain.Order, error)
	Pay(ctx context.Context, token string, req backend.PayRequest) (backend.PayResponse, error)
}

// Guard gates payments on the session and signals its invalidation.
type Guard interface {
	Begin() (session.Attempt, error)
	Signal() <-chan struct{}
}

// Phase is the lifecycle of the background poll loop, separate from the order status.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhasePolling   Phase = "POLLING"
	PhaseSettled   Phase = "SETTLED"
	PhaseExhausted Phase = "EXHAUSTED"
	PhaseStopped   Phase = "STOPPED"
)

// Snapshot is the observable state of a Reconciler.
type Snapshot struct {
	Order     *domain.Order `json:"order,omitempty"`
	Phase     Phase         `json:"phase"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	CanPay    bool          `json:"can_pay"`
}

// Config binds a Reconciler to one order.
type Config struct {
	Token     string
	Schedule  config.PollingConfig
	ReturnURL string
	// Offer, when known, is used to check the order's delivery amount.
	Offer *domain.DeliveryOffer
}

type Reconciler struct {
	cfg     Config
	backend Backend
	guard   Guard
	logger  *slog.Logger
	polls   metric.Int64Counter

	mu       sync.Mutex
	order    *domain.Order
	phase    Phase
	attempts int
	lastErr  error
	stopped  bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewReconciler(cfg Config, b Backend, guard Guard, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		backend: b,
		guard:   guard,
		logger:  logger.With("component", "payment", "order_token", cfg.Token),
		polls:   telemetry.Counter("storefront/payment", "storefront.order.polls", "Background order status polls"),
		phase:   PhaseIdle,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
}

// Load fetches the order by its public token. Errors are returned to the caller.
func (r *Reconciler) Load(ctx context.Context) (domain.Order, error) {
	return r.fetch(ctx, r.backend.OrderByToken, "load order")
}

// Refresh asks the backend to re-read the payment status now. Unlike background polls
// its errors are returned to the caller.
func (r *Reconciler) Refresh(ctx context.Context) (domain.Order, error) {
	return r.fetch(ctx, r.backend.RefreshPayment, "refresh order")
}

func (r *Reconciler) fetch(ctx context.Context, get func(context.Context, string) (domain.Order, error), op string) (domain.Order, error) {
	if r.isStopped() {
		return domain.Order{}, sferrors.ErrReconcilerStopped
	}
	order, err := get(ctx, r.cfg.Token)
	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return domain.Order{}, fmt.Errorf("failed to %s: %w", op, err)
	}
	if !r.apply(ctx, order) {
		return domain.Order{}, sferrors.ErrReconcilerStopped
	}
	return order, nil
}

// apply records a fetched order unless the reconciler was stopped meanwhile.
func (r *Reconciler) apply(ctx context.Context, order domain.Order) bool {
	if err := order.CheckTotals(r.cfg.Offer); err != nil {
		r.logger.WarnContext(ctx, "Order totals are inconsistent", "error", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	prev := r.order
	r.order = &order
	r.lastErr = nil
	if prev == nil || prev.Status != order.Status {
		r.logger.InfoContext(ctx, "Order status observed", "status", order.Status, "delivery_status", order.DeliveryStatus)
	}
	return true
}

// Start launches background polling. Only the first call has an effect. ctx must outlive
// the request that triggered it; cancelling ctx stops polling like Stop does.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			close(r.done)
			return
		}
		pollCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.phase = PhasePolling
		r.mu.Unlock()
		go r.run(pollCtx)
	})
}

// Stop tears the reconciler down and waits for the poll loop to exit. It is safe to call
// more than once and before Start.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		cancel := r.cancel
		r.mu.Unlock()
		cancel()
		// a Reconciler that was never started has no loop to wait for
		r.startOnce.Do(func() { close(r.done) })
		<-r.done
	})
}

// Done is closed when background polling has ended for any reason.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// Interrupted reports whether background polling ended early without Stop, as it does when
// the session is invalidated. An interrupted Reconciler never polls again.
func (r *Reconciler) Interrupted() bool {
	select {
	case <-r.done:
	default:
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped && r.phase == PhaseStopped
}

func (r *Reconciler) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Reconciler) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		r.phase = PhaseStopped
		return
	}
	r.phase = p
}

// pollable reports whether the last observed status still needs polling.
func (r *Reconciler) pollable() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil {
		return false, false
	}
	return r.order.Status.Pollable(), true
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	var invalidated <-chan struct{}
	if r.guard != nil {
		invalidated = r.guard.Signal()
	}

	if _, loaded := r.pollable(); !loaded {
		order, err := r.backend.OrderByToken(ctx, r.cfg.Token)
		if err != nil || !r.apply(ctx, order) {
			if err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "Initial order load failed, background polling disabled", "error", err)
				r.mu.Lock()
				r.lastErr = err
				r.mu.Unlock()
			}
			r.setPhase(PhaseStopped)
			return
		}
	}

	delay := r.cfg.Schedule.InitialDelay
	for attempt := 1; attempt <= r.cfg.Schedule.MaxAttempts; attempt++ {
		if pollable, _ := r.pollable(); !pollable {
			r.setPhase(PhaseSettled)
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.setPhase(PhaseStopped)
			return
		case <-invalidated:
			timer.Stop()
			r.logger.InfoContext(ctx, "Session invalidated, background polling stopped")
			r.setPhase(PhaseStopped)
			return
		case <-timer.C:
		}
		delay = r.cfg.Schedule.Interval

		order, err := r.backend.RefreshPayment(ctx, r.cfg.Token)
		r.mu.Lock()
		r.attempts = attempt
		r.mu.Unlock()
		r.polls.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
		if err != nil {
			if ctx.Err() != nil {
				r.setPhase(PhaseStopped)
				return
			}
			// background polls swallow transient failures, manual refresh stays available
			r.logger.WarnContext(ctx, "Background order poll failed", "attempt", attempt, "error", err)
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			continue
		}
		if !r.apply(ctx, order) {
			r.setPhase(PhaseStopped)
			return
		}
	}

	if pollable, _ := r.pollable(); !pollable {
		r.setPhase(PhaseSettled)
		return
	}
	r.logger.InfoContext(ctx, "Polling budget exhausted without a terminal status", "attempts", r.cfg.Schedule.MaxAttempts)
	r.setPhase(PhaseExhausted)
}

// Pay starts a payment for the order and returns the payment redirect. It is refused for
// orders that are already paid, delivered or refunded.
func (r *Reconciler) Pay(ctx context.Context, email string) (backend.PayResponse, error) {
	var attempt session.Attempt
	if r.guard != nil {
		var err error
		if attempt, err = r.guard.Begin(); err != nil {
			return backend.PayResponse{}, err
		}
	}
	if email == "" {
		return backend.PayResponse{}, sferrors.ErrEmailRequired
	}
	if r.isStopped() {
		return backend.PayResponse{}, sferrors.ErrReconcilerStopped
	}
	r.mu.Lock()
	order := r.order
	r.mu.Unlock()
	if order == nil {
		return backend.PayResponse{}, sferrors.ErrOrderNotLoaded
	}
	if !order.Status.Payable() {
		return backend.PayResponse{}, fmt.Errorf("%w: status %s", sferrors.ErrPaymentNotAllowed, order.Status)
	}

	resp, err := r.backend.Pay(ctx, r.cfg.Token, backend.PayRequest{ReceiptEmail: email, ReturnURL: r.cfg.ReturnURL})
	if checkErr := attempt.Check(); checkErr != nil {
		r.logger.WarnContext(ctx, "Session invalidated while starting payment")
		return backend.PayResponse{}, checkErr
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Payment initiation failed", "error", err)
		return backend.PayResponse{}, fmt.Errorf("failed to start payment: %w", err)
	}
	if resp.ConfirmationURL == "" {
		return backend.PayResponse{}, sferrors.ErrRedirectMissing
	}
	r.logger.InfoContext(ctx, "Payment started")
	return resp, nil
}

// Snapshot returns the current observable state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{Phase: r.phase, Attempts: r.attempts}
	if r.stopped {
		s.Phase = PhaseStopped
	}
	if r.order != nil {
		o := *r.order
		s.Order = &o
		s.CanPay = o.Status.Payable()
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}
