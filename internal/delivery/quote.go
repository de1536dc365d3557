// Package delivery runs the delivery quoting flow of a session: pickup point search,
// destination selection and time-boxed delivery offers.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
)

// State is the position of the quoting flow.
type State string

const (
	StateNoLocation      State = "NO_LOCATION"
	StateAddressSet      State = "ADDRESS_SET"
	StatePointsLoaded    State = "POINTS_LOADED"
	StateOffersRequested State = "OFFERS_REQUESTED"
	StateOffersReady     State = "OFFERS_READY"
	StateOffersEmpty     State = "OFFERS_EMPTY"
	StateOffersError     State = "OFFERS_ERROR"
)

type Backend interface {
	PickupPoints(ctx context.Context, location string) (domain.PickupPoints, error)
	DeliveryOffers(ctx context.Context, req backend.OffersRequest) ([]domain.DeliveryOffer, error)
}

// CartSource provides the last canonical cart of the session.
type CartSource interface {
	Snapshot() *domain.Cart
}

// View is a read-only snapshot of the quoting flow.
type View struct {
	State        State                  `json:"state"`
	DeliveryType domain.DeliveryType    `json:"delivery_type,omitempty"`
	Location     string                 `json:"location,omitempty"`
	RegionID     string                 `json:"region_id,omitempty"`
	Points       []domain.PickupPoint   `json:"points,omitempty"`
	Address      string                 `json:"address,omitempty"`
	Point        *domain.PickupPoint    `json:"point,omitempty"`
	Recipient    domain.Recipient       `json:"recipient"`
	Offers       []domain.DeliveryOffer `json:"offers"`
	Selected     *domain.DeliveryOffer  `json:"selected,omitempty"`
	Stale        bool                   `json:"stale,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Selection is everything checkout needs from the quote: the chosen offer, where it applies
// and the cart contents it was priced for.
type Selection struct {
	CartID          string
	CartFingerprint string
	Offer       domain.DeliveryOffer
	Destination domain.Destination
	Recipient   domain.Recipient
}

type Option func(*Quote)

// WithClock overrides the wall clock used for offer expiry.
func WithClock(now func() time.Time) Option {
	return func(q *Quote) {
		q.now = now
	}
}

// Quote is the quoting flow of one session.
//
// Network calls run without holding the lock. Each destination change bumps a generation
// counter, and a response that belongs to an older generation is discarded.
type Quote struct {
	mu      sync.Mutex
	backend Backend
	cart    CartSource
	logger  *slog.Logger
	now     func() time.Time

	state        State
	deliveryType domain.DeliveryType
	location     string
	regionID     string
	points       []domain.PickupPoint
	address      string
	point        *domain.PickupPoint
	recipient    domain.Recipient
	offers       []domain.DeliveryOffer
	selected     int
	quotedCart   string
	lastErr      error

	generation       uint64
	pointsGeneration uint64
}

func NewQuote(b Backend, cart CartSource, logger *slog.Logger, opts ...Option) *Quote {
	q := &Quote{
		backend:  b,
		cart:     cart,
		logger:   logger.With("component", "delivery"),
		now:      time.Now,
		state:    StateNoLocation,
		selected: -1,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// invalidate drops offers and the selection, and makes in-flight quotes stale. Callers hold mu.
func (q *Quote) invalidate() {
	q.generation++
	q.offers = nil
	q.selected = -1
	q.quotedCart = ""
	q.lastErr = nil
	q.state = q.baseState()
}

func (q *Quote) baseState() State {
	switch {
	case q.deliveryType == domain.DeliveryCourier && q.address != "":
		return StateAddressSet
	case q.deliveryType != domain.DeliveryCourier && q.points != nil:
		return StatePointsLoaded
	default:
		return StateNoLocation
	}
}

// SetDeliveryType switches between courier and pickup delivery.
func (q *Quote) SetDeliveryType(t domain.DeliveryType) error {
	if !t.Valid() {
		return sferrors.ErrDeliveryTypeInvalid
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveryType == t {
		return nil
	}
	q.deliveryType = t
	q.invalidate()
	return nil
}

// SetAddress sets the courier address.
func (q *Quote) SetAddress(address string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.address == address {
		return
	}
	q.address = address
	q.invalidate()
}

// SetRecipient stores the recipient used for quoting and checkout.
func (q *Quote) SetRecipient(r domain.Recipient) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recipient = r
}

// SearchPoints loads pickup points for a free-text location.
// Any selected point and all offers are dropped before the search starts.
func (q *Quote) SearchPoints(ctx context.Context, location string) (View, error) {
	if location == "" {
		return View{}, sferrors.ErrLocationRequired
	}
	q.mu.Lock()
	q.location = location
	q.point = nil
	q.points = nil
	q.regionID = ""
	q.invalidate()
	q.pointsGeneration++
	gen := q.pointsGeneration
	q.mu.Unlock()

	res, err := q.backend.PickupPoints(ctx, location)

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.pointsGeneration {
		return q.view(), sferrors.ErrQuoteSuperseded
	}
	if err != nil {
		q.logger.WarnContext(ctx, "Pickup point search failed", "location", location, "error", err)
		return q.view(), fmt.Errorf("failed to search pickup points: %w", err)
	}
	q.regionID = res.RegionID
	q.points = res.Points
	if q.points == nil {
		q.points = []domain.PickupPoint{}
	}
	q.state = q.baseState()
	return q.view(), nil
}

// SelectPoint chooses the pickup destination. Points without a backend id are rejected.
func (q *Quote) SelectPoint(p domain.PickupPoint) error {
	if !p.Confirmed() {
		return sferrors.ErrPointNotSelectable
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.point != nil && q.point.ID == p.ID {
		return nil
	}
	for _, known := range q.points {
		if known.ID == p.ID {
			p = known
			break
		}
	}
	q.point = &p
	q.invalidate()
	return nil
}

// SelectPointByID chooses a point from the last search result.
func (q *Quote) SelectPointByID(id string) error {
	q.mu.Lock()
	var found *domain.PickupPoint
	for i := range q.points {
		if q.points[i].ID != "" && q.points[i].ID == id {
			found = &q.points[i]
			break
		}
	}
	q.mu.Unlock()
	if found == nil {
		if id == "" {
			return sferrors.ErrPointNotSelectable
		}
		return fmt.Errorf("%w: pickup point %s is not in the search result", sferrors.ErrNotFound, id)
	}
	return q.SelectPoint(*found)
}

func (q *Quote) destination() domain.Destination {
	d := domain.Destination{Type: q.deliveryType}
	switch q.deliveryType {
	case domain.DeliveryCourier:
		d.Address = q.address
	case domain.DeliveryPickup:
		if q.point != nil {
			p := *q.point
			d.Point = &p
			d.Address = p.Address
		}
	}
	return d
}

// RequestOffers quotes the current cart for the current destination and recipient.
// Preconditions are checked before any network call. An empty result is not an error:
// the flow ends in OFFERS_EMPTY.
func (q *Quote) RequestOffers(ctx context.Context) (View, error) {
	q.mu.Lock()
	cart := q.cart.Snapshot()
	if err := q.checkPreconditions(cart); err != nil {
		q.mu.Unlock()
		return View{}, err
	}
	q.invalidate()
	gen := q.generation
	q.state = StateOffersRequested
	q.quotedCart = cart.Fingerprint()
	req := backend.OffersRequest{
		CartID:      cart.ID,
		Destination: q.destination(),
		Recipient:   q.recipient,
	}
	q.mu.Unlock()

	offers, err := q.backend.DeliveryOffers(ctx, req)

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.generation {
		q.logger.InfoContext(ctx, "Discarding delivery offers for a superseded destination", "cart_id", req.CartID)
		return q.view(), sferrors.ErrQuoteSuperseded
	}
	if err != nil {
		q.state = StateOffersError
		q.lastErr = err
		q.logger.WarnContext(ctx, "Delivery offer request failed", "cart_id", req.CartID, "error", err)
		return q.view(), fmt.Errorf("failed to request delivery offers: %w", err)
	}
	if len(offers) == 0 {
		q.state = StateOffersEmpty
		q.logger.InfoContext(ctx, "No delivery offers for destination", "cart_id", req.CartID, "type", req.Destination.Type)
		return q.view(), nil
	}
	q.offers = offers
	q.selected = 0
	q.state = StateOffersReady
	return q.view(), nil
}

func (q *Quote) checkPreconditions(cart *domain.Cart) error {
	if cart.IsEmpty() {
		return sferrors.ErrCartEmpty
	}
	if !q.recipient.Complete() {
		return sferrors.ErrRecipientIncomplete
	}
	if !q.deliveryType.Valid() {
		return sferrors.ErrDeliveryTypeInvalid
	}
	if q.deliveryType == domain.DeliveryPickup && q.point != nil && !q.point.Confirmed() {
		return sferrors.ErrPointNotSelectable
	}
	if !q.destination().Ready() {
		return sferrors.ErrDestinationRequired
	}
	return nil
}

// stale reports whether the cart changed since the offers were quoted. Callers hold mu.
func (q *Quote) stale() bool {
	return len(q.offers) > 0 && q.quotedCart != q.cart.Snapshot().Fingerprint()
}

// SelectOffer chooses one of the fetched offers. Expired offers and offers quoted for
// different cart contents are rejected.
func (q *Quote) SelectOffer(offerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stale() {
		return sferrors.ErrQuoteStale
	}
	for i, o := range q.offers {
		if o.OfferID != offerID {
			continue
		}
		if o.Expired(q.now()) {
			return sferrors.ErrOfferExpired
		}
		q.selected = i
		return nil
	}
	return sferrors.ErrOfferNotFound
}

// Selection returns the selected offer with its destination. It fails with ErrQuoteStale
// once the cart no longer matches what was quoted. Expiry is not checked here; checkout
// re-checks it right before submission.
func (q *Quote) Selection() (Selection, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.selected < 0 || q.selected >= len(q.offers) {
		return Selection{}, sferrors.ErrOfferNotSelected
	}
	if q.stale() {
		return Selection{}, sferrors.ErrQuoteStale
	}
	sel := Selection{
		CartFingerprint: q.quotedCart,
		Offer:           q.offers[q.selected],
		Destination:     q.destination(),
		Recipient:       q.recipient,
	}
	if cart := q.cart.Snapshot(); cart != nil {
		sel.CartID = cart.ID
	}
	return sel, nil
}

// Reset returns the flow to its initial state, keeping the recipient.
func (q *Quote) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deliveryType = ""
	q.location = ""
	q.regionID = ""
	q.points = nil
	q.address = ""
	q.point = nil
	q.pointsGeneration++
	q.invalidate()
}

// View returns a snapshot of the flow.
func (q *Quote) View() View {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.view()
}

func (q *Quote) view() View {
	v := View{
		State:        q.state,
		DeliveryType: q.deliveryType,
		Location:     q.location,
		RegionID:     q.regionID,
		Points:       append([]domain.PickupPoint(nil), q.points...),
		Address:      q.address,
		Recipient:    q.recipient,
		Offers:       append([]domain.DeliveryOffer{}, q.offers...),
	}
	if q.point != nil {
		p := *q.point
		v.Point = &p
	}
	if q.selected >= 0 && q.selected < len(q.offers) {
		o := q.offers[q.selected]
		v.Selected = &o
	}
	v.Stale = q.stale()
	if q.lastErr != nil {
		v.Error = q.lastErr.Error()
	}
	return v
}
