// Package checkout turns a quoted cart into an order, either by redirecting the current session
// to payment or by issuing a shareable order link on the customer's behalf.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/delivery"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/pkg/messaging"
	"github.com/abgdnv/storefront/pkg/messaging/events"
	"github.com/abgdnv/storefront/pkg/telemetry"
	"go.opentelemetry.io/otel/metric"
)

type Backend interface {
	SubmitCheckout(ctx context.Context, req backend.CheckoutRequest) (backend.CheckoutResponse, error)
	CreatePublicLink(ctx context.Context, req backend.PublicLinkRequest) (backend.PublicLinkResponse, error)
}

// Cart is the session cart as seen by checkout.
type Cart interface {
	Snapshot() *domain.Cart
	Clear(ctx context.Context) error
}

// Quote is the session's delivery quoting flow.
type Quote interface {
	Selection() (delivery.Selection, error)
	Reset()
}

// Guard gates money-moving operations on the session still being valid.
type Guard interface {
	Begin() (session.Attempt, error)
}

// Deps are the collaborators shared by Orchestrator and ManagerLinkIssuer.
type Deps struct {
	SessionID string
	Backend   Backend
	Cart      Cart
	Quote     Quote
	Guard     Guard
	Publisher messaging.Publisher
	ReturnURL string
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = messaging.NopPublisher{}
	}
}

// Result is the outcome of an accepted checkout.
type Result struct {
	OrderToken      string         `json:"order_token"`
	ConfirmationURL string         `json:"confirmation_url"`
	Summary         domain.Summary `json:"summary"`
}

// prepared is a checkout that passed every local precondition.
type prepared struct {
	attempt   session.Attempt
	cart      *domain.Cart
	selection delivery.Selection
	summary   domain.Summary
	request   backend.CheckoutRequest
}

// prepare checks all preconditions, including offer expiry against the wall clock,
// and builds the backend request. It makes no network calls.
func (d *Deps) prepare(email string, emailRequired bool) (prepared, error) {
	attempt, err := d.Guard.Begin()
	if err != nil {
		return prepared{}, err
	}
	cart := d.Cart.Snapshot()
	if cart.IsEmpty() {
		return prepared{}, sferrors.ErrCartEmpty
	}
	if emailRequired && email == "" {
		return prepared{}, sferrors.ErrEmailRequired
	}
	sel, err := d.Quote.Selection()
	if err != nil {
		return prepared{}, err
	}
	if sel.CartFingerprint != cart.Fingerprint() {
		return prepared{}, sferrors.ErrQuoteStale
	}
	if !sel.Recipient.Complete() {
		return prepared{}, sferrors.ErrRecipientIncomplete
	}
	if p := sel.Destination.Point; sel.Destination.Type == domain.DeliveryPickup && p != nil && !p.Confirmed() {
		return prepared{}, sferrors.ErrPointNotSelectable
	}
	if !sel.Destination.Ready() {
		return prepared{}, sferrors.ErrDestinationRequired
	}
	if sel.Offer.Expired(d.Now()) {
		return prepared{}, sferrors.ErrOfferExpired
	}
	return prepared{
		attempt:   attempt,
		cart:      cart,
		selection: sel,
		summary:   domain.NewSummary(cart, sel.Offer),
		request: backend.CheckoutRequest{
			CartID:       cart.ID,
			OfferID:      sel.Offer.OfferID,
			Destination:  sel.Destination,
			Recipient:    sel.Recipient,
			IntervalFrom: sel.Offer.IntervalFrom,
			IntervalTo:   sel.Offer.IntervalTo,
			ReceiptEmail: email,
			ReturnURL:    d.ReturnURL,
		},
	}, nil
}

// committed clears the local cart and quote after the backend accepted an order.
func (d *Deps) committed(ctx context.Context, logger *slog.Logger, orderToken string) {
	if err := d.Cart.Clear(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to clear cart after checkout", "order_token", orderToken, "error", err)
	}
	d.Quote.Reset()
}

func (d *Deps) publish(ctx context.Context, logger *slog.Logger, ev messaging.Event) {
	if err := d.Publisher.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", ev.Subject(), "error", err)
	}
}

// Orchestrator submits the session's checkout and returns the payment redirect.
type Orchestrator struct {
	deps      Deps
	logger    *slog.Logger
	submitted metric.Int64Counter
}

func NewOrchestrator(deps Deps) *Orchestrator {
	deps.defaults()
	return &Orchestrator{
		deps:      deps,
		logger:    deps.Logger.With("component", "checkout"),
		submitted: telemetry.Counter("storefront/checkout", "storefront.orders.submitted", "Checkouts accepted by the backend"),
	}
}

// Summary returns the confirmation summary for the current cart and selected offer.
func (o *Orchestrator) Summary() (domain.Summary, error) {
	cart := o.deps.Cart.Snapshot()
	if cart.IsEmpty() {
		return domain.Summary{}, sferrors.ErrCartEmpty
	}
	sel, err := o.deps.Quote.Selection()
	if err != nil {
		return domain.Summary{}, err
	}
	if sel.CartFingerprint != cart.Fingerprint() {
		return domain.Summary{}, sferrors.ErrQuoteStale
	}
	return domain.NewSummary(cart, sel.Offer), nil
}

// Submit places the order. Preconditions fail before any network call.
//
// Once the backend returns an order token the cart is cleared, even if the response has no
// redirect; in that case ErrRedirectMissing is returned with the token so the customer can
// pay from the order page. If the session is invalidated while the request is in flight the
// call fails with ErrSessionInvalidated and must not be retried automatically.
func (o *Orchestrator) Submit(ctx context.Context, email string) (Result, error) {
	p, err := o.deps.prepare(email, true)
	if err != nil {
		return Result{}, err
	}

	resp, err := o.deps.Backend.SubmitCheckout(ctx, p.request)

	if checkErr := p.attempt.Check(); checkErr != nil {
		o.logger.WarnContext(ctx, "Session invalidated during checkout", "cart_id", p.cart.ID, "order_token", resp.OrderToken)
		if err == nil && resp.OrderToken != "" {
			o.deps.committed(ctx, o.logger, resp.OrderToken)
		}
		return Result{OrderToken: resp.OrderToken}, checkErr
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "Checkout rejected", "cart_id", p.cart.ID, "offer_id", p.request.OfferID, "error", err)
		return Result{}, fmt.Errorf("failed to submit checkout: %w", err)
	}

	result := Result{OrderToken: resp.OrderToken, ConfirmationURL: resp.ConfirmationURL, Summary: p.summary}
	if resp.OrderToken != "" {
		o.deps.committed(ctx, o.logger, resp.OrderToken)
		o.submitted.Add(ctx, 1)
		o.deps.publish(ctx, o.logger, events.OrderSubmittedEvent{
			SessionID:      o.deps.SessionID,
			CartID:         p.cart.ID,
			OrderToken:     resp.OrderToken,
			OfferID:        p.request.OfferID,
			ItemsTotal:     p.summary.ItemsTotal,
			DeliveryAmount: p.summary.DeliveryAmount,
			SubmittedAt:    o.deps.Now(),
		})
	}
	if resp.ConfirmationURL == "" {
		o.logger.ErrorContext(ctx, "Checkout accepted without payment redirect", "cart_id", p.cart.ID, "order_token", resp.OrderToken)
		return result, sferrors.ErrRedirectMissing
	}
	o.logger.InfoContext(ctx, "Checkout submitted", "cart_id", p.cart.ID, "order_token", resp.OrderToken, "total", p.summary.Total)
	return result, nil
}
