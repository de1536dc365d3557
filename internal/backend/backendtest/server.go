// Package backendtest runs an in-memory commerce backend over HTTP for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/abgdnv/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

const DefaultPrice = 1000

// Server is a fake commerce backend. Zero configuration serves a courier offer "off-1"
// priced 500 for any address, and orders that turn PAID on the second refresh.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	now          func() time.Time
	carts        map[string]*domain.Cart
	orders       map[string]*domain.Order
	refreshes    map[string]int
	stock        map[string]int64
	applied      map[string]int64
	adjustCalls  int
	authByPath   map[string]string
	nextID       int
	Offers       func(address string) []domain.DeliveryOffer
	Points       domain.PickupPoints
	StatusScript []domain.OrderStatus
	OmitRedirect bool
	Unhealthy    bool
}

func NewServer(now func() time.Time) *Server {
	s := &Server{
		now:          now,
		carts:        make(map[string]*domain.Cart),
		orders:       make(map[string]*domain.Order),
		refreshes:    make(map[string]int),
		stock:        make(map[string]int64),
		applied:      make(map[string]int64),
		authByPath:   make(map[string]string),
		StatusScript: []domain.OrderStatus{domain.StatusPending, domain.StatusPaid},
	}
	s.Offers = func(address string) []domain.DeliveryOffer {
		return []domain.DeliveryOffer{{
			OfferID:      "off-1",
			DeliveryType: domain.DeliveryCourier,
			Pricing:      500,
			IntervalFrom: s.now().Add(24 * time.Hour),
			IntervalTo:   s.now().Add(26 * time.Hour),
			ExpiresAt:    s.now().Add(600 * time.Second),
		}}
	}

	r := chi.NewRouter()
	r.Use(s.recordAuthorization)
	r.Get("/healthz", s.health)
	r.Post("/carts", s.createCart)
	r.Get("/carts/{id}", s.getCart)
	r.Post("/carts/{id}/items", s.addItem)
	r.Patch("/carts/{id}/items/{itemID}", s.updateItem)
	r.Delete("/carts/{id}/items/{itemID}", s.removeItem)
	r.Get("/delivery/pickup-points", s.pickupPoints)
	r.Post("/delivery/offers", s.offers)
	r.Post("/checkout", s.checkout)
	r.Post("/checkout/public-links", s.publicLink)
	r.Get("/orders/public/{token}", s.getOrder)
	r.Post("/orders/public/{token}/refresh", s.refreshOrder)
	r.Post("/orders/public/{token}/payments", s.pay)
	r.Post("/admin/orders/{id}/delivery/refresh", s.adminDelivery(domain.DeliveryStatusInTransit))
	r.Post("/admin/orders/{id}/delivery/cancel", s.adminDelivery(domain.DeliveryStatusCancelled))
	r.Patch("/admin/orders/{id}/status", s.adminStatus)
	r.Post("/inventory/variants/{id}/adjustments", s.adjust)
	r.Get("/inventory/variants/{id}", s.variant)
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) recordAuthorization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authByPath[r.URL.Path] = r.Header.Get("Authorization")
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func (s *Server) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unhealthy {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "down")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createCart(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &domain.Cart{ID: s.id("cart"), Items: []domain.CartItem{}}
	s.carts[c.ID] = c
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) cart(w http.ResponseWriter, r *http.Request) (*domain.Cart, bool) {
	c, ok := s.carts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "cart not found")
	}
	return c, ok
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cart(w, r); ok {
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductRef string `json:"product_ref"`
		VariantID  string `json:"variant_id"`
		Quantity   int32  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "invalid", "invalid item")
		return
	}
	c.Items = append(c.Items, domain.CartItem{
		ID:         s.id("item"),
		ProductRef: req.ProductRef,
		VariantID:  req.VariantID,
		Quantity:   req.Quantity,
		UnitPrice:  DefaultPrice,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity int32 `json:"quantity"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	for i := range c.Items {
		if c.Items[i].ID == chi.URLParam(r, "itemID") {
			c.Items[i].Quantity = req.Quantity
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "item not found")
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	for i := range c.Items {
		if c.Items[i].ID == chi.URLParam(r, "itemID") {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "item not found")
}

func (s *Server) pickupPoints(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.Points)
}

type checkoutBody struct {
	CartID       string             `json:"cart_id"`
	OfferID      string             `json:"offer_id"`
	Destination  domain.Destination `json:"destination"`
	Recipient    domain.Recipient   `json:"recipient"`
	ReceiptEmail string             `json:"receipt_email"`
	SendEmail    bool               `json:"send_email"`
	EmailTo      string             `json:"email_to"`
}

func (s *Server) offers(w http.ResponseWriter, r *http.Request) {
	var req checkoutBody
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"offers": s.Offers(req.Destination.Address)})
}

// placeOrder turns a cart into an order. Callers hold mu.
func (s *Server) placeOrder(w http.ResponseWriter, req checkoutBody) (*domain.Order, bool) {
	c, ok := s.carts[req.CartID]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "cart not found")
		return nil, false
	}
	var offer *domain.DeliveryOffer
	for _, o := range s.Offers(req.Destination.Address) {
		if o.OfferID == req.OfferID {
			offer = &o
			break
		}
	}
	if offer == nil {
		writeError(w, http.StatusBadRequest, "unknown_offer", "unknown offer")
		return nil, false
	}
	if s.now().After(offer.ExpiresAt) {
		writeError(w, http.StatusGone, "offer_expired", "offer expired")
		return nil, false
	}
	o := &domain.Order{
		ID:              s.id("order"),
		PublicToken:     s.id("tok"),
		Status:          domain.StatusPending,
		DeliveryStatus:  domain.DeliveryStatusCreated,
		DeliveryMethod:  req.Destination.Type,
		DeliveryOfferID: offer.OfferID,
		DeliveryAmount:  offer.Pricing,
		Recipient:       req.Recipient,
	}
	for _, item := range c.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:         item.ID,
			VariantID:  item.VariantID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.LineTotal(),
		})
		o.TotalAmount += item.LineTotal()
	}
	s.orders[o.PublicToken] = o
	delete(s.carts, c.ID)
	return o, true
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutBody
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.placeOrder(w, req)
	if !ok {
		return
	}
	resp := map[string]string{"order_token": o.PublicToken}
	if !s.OmitRedirect {
		resp["confirmation_url"] = "https://pay.example/confirm/" + o.PublicToken
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) publicLink(w http.ResponseWriter, r *http.Request) {
	var req checkoutBody
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.placeOrder(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_token": o.PublicToken,
		"url":         "https://shop.example/o/" + o.PublicToken,
		"emailed":     req.SendEmail && req.EmailTo != "",
	})
}

func (s *Server) order(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	o, ok := s.orders[chi.URLParam(r, "token")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "order not found")
	}
	return o, ok
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.order(w, r); ok {
		writeJSON(w, http.StatusOK, o)
	}
}

// refreshOrder advances the order through StatusScript, one step per call.
func (s *Server) refreshOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.order(w, r)
	if !ok {
		return
	}
	n := s.refreshes[o.PublicToken]
	s.refreshes[o.PublicToken] = n + 1
	if len(s.StatusScript) > 0 {
		if n >= len(s.StatusScript) {
			n = len(s.StatusScript) - 1
		}
		o.Status = s.StatusScript[n]
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.order(w, r)
	if !ok {
		return
	}
	if !o.Status.Payable() {
		writeError(w, http.StatusConflict, "already_paid", "order is settled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"confirmation_url": "https://pay.example/confirm/" + o.PublicToken + "/retry"})
}

func (s *Server) orderByID(id string) *domain.Order {
	for _, o := range s.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (s *Server) adminDelivery(status domain.DeliveryStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		o := s.orderByID(chi.URLParam(r, "id"))
		if o == nil {
			writeError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		o.DeliveryStatus = status
		writeJSON(w, http.StatusOK, o)
	}
}

func (s *Server) adminStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.OrderStatus `json:"status"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orderByID(chi.URLParam(r, "id"))
	if o == nil {
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	o.Status = req.Status
	writeJSON(w, http.StatusOK, o)
}

// adjust applies each Idempotency-Key at most once.
func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int64 `json:"delta"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	key := r.Header.Get("Idempotency-Key")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustCalls++
	if key == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key_required", "missing key")
		return
	}
	if stock, ok := s.applied[key]; ok {
		writeJSON(w, http.StatusOK, map[string]int64{"stock": stock})
		return
	}
	id := chi.URLParam(r, "id")
	s.stock[id] += req.Delta
	s.applied[key] = s.stock[id]
	writeJSON(w, http.StatusOK, map[string]int64{"stock": s.stock[id]})
}

func (s *Server) variant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, domain.Variant{ID: id, Stock: s.stock[id], Version: int32(len(s.applied))})
}

// SetStock sets the stock of a variant.
func (s *Server) SetStock(variantID string, stock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[variantID] = stock
}

// Stock returns the stock of a variant.
func (s *Server) Stock(variantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[variantID]
}

// Refreshes returns how many refreshes were requested for an order.
func (s *Server) Refreshes(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes[token]
}

// Order returns a copy of the order with the public token.
func (s *Server) Order(token string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[token]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Configure runs fn under the server lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// AdjustCalls returns how many stock adjustment requests were received.
func (s *Server) AdjustCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustCalls
}

// Authorization returns the Authorization header of the last request to path.
func (s *Server) Authorization(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authByPath[path]
}
