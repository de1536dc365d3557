// Package rest exposes the storefront session operations over HTTP.
package rest

import (
	"log/slog"
	"net/http"

	"github.com/abgdnv/storefront/internal/checkout"
	"github.com/abgdnv/storefront/internal/domain"
	"github.com/abgdnv/storefront/internal/inventory"
	"github.com/abgdnv/storefront/internal/payment"
	"github.com/abgdnv/storefront/internal/storefront"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Deps struct {
	Registry    *storefront.Registry
	Admin       *payment.Admin
	Verifier    auth.Verifier
	ManagerRole string
	Checks      []Check
	Logger      *slog.Logger
}

type Handler struct {
	registry    *storefront.Registry
	admin       *payment.Admin
	verifier    auth.Verifier
	managerRole string
	checks      []Check
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		registry:    deps.Registry,
		admin:       deps.Admin,
		verifier:    deps.Verifier,
		managerRole: deps.ManagerRole,
		checks:      deps.Checks,
		validate:    validator.New(),
		logger:      deps.Logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the storefront API and the probes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/livez", h.Live)
	r.Get("/readyz", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(web.SessionMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/refresh", h.RefreshCart)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{itemID}", h.UpdateItem)
			r.Delete("/items/{itemID}", h.RemoveItem)
		})

		r.Route("/delivery", func(r chi.Router) {
			r.Get("/", h.GetQuote)
			r.Delete("/", h.ResetQuote)
			r.Put("/type", h.SetDeliveryType)
			r.Put("/address", h.SetAddress)
			r.Put("/recipient", h.SetRecipient)
			r.Post("/points/search", h.SearchPoints)
			r.Put("/point", h.SelectPoint)
			r.Post("/offers", h.RequestOffers)
			r.Put("/offer", h.SelectOffer)
		})

		r.Get("/checkout/summary", h.Summary)
		r.Post("/checkout", h.Submit)
		r.Post("/session/reauthenticated", h.Reauthenticated)

		r.Route("/orders/{token}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/refresh", h.RefreshOrder)
			r.Post("/payments", h.Pay)
			r.Delete("/watch", h.Unwatch)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(h.verifier, h.managerRole))

			r.Post("/manager/links", h.IssueLink)
			r.Get("/manager/clipboard", h.Paste)

			r.Route("/admin/orders/{orderID}", func(r chi.Router) {
				r.Post("/delivery/refresh", h.RefreshDelivery)
				r.Post("/delivery/cancel", h.CancelDelivery)
				r.Patch("/status", h.OverrideStatus)
			})

			r.Route("/admin/inventory/variants/{variantID}", func(r chi.Router) {
				r.Get("/", h.GetVariant)
				r.Post("/adjustments", h.AdjustStock)
				r.Post("/adjustments/retry", h.RetryAdjustment)
				r.Delete("/adjustments/draft", h.DiscardAdjustment)
				r.Post("/reconcile", h.ReconcileVariant)
			})
		})
	})
}

func (h *Handler) loggerWithReqID(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}

// session resolves the caller's session. It writes the error response itself.
func (h *Handler) session(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*storefront.Session, bool) {
	id, ok := web.SessionID(r.Context())
	if !ok {
		web.RespondError(w, logger, http.StatusUnauthorized, "Missing session")
		return nil, false
	}
	s, err := h.registry.Session(id)
	if err != nil {
		respondErr(w, r, logger, err)
		return nil, false
	}
	return s, true
}

// GetCart returns the session cart, creating it on first use.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	c, err := s.Cart.EnsureCart(r.Context())
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, c)
}

func (h *Handler) RefreshCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	c, err := s.Cart.Refresh(r.Context())
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, c)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto addItemDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	c, err := s.Cart.AddItem(r.Context(), dto.ProductRef, dto.VariantID, dto.Quantity)
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, c)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto updateItemDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	c, err := s.Cart.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), dto.Quantity)
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, c)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	c, err := s.Cart.RemoveItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, c)
}

// GetQuote returns the delivery quote view of the session.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

func (h *Handler) ResetQuote(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	s.Quote.Reset()
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

func (h *Handler) SetDeliveryType(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto deliveryTypeDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	if err := s.Quote.SetDeliveryType(domain.DeliveryType(dto.Type)); err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

func (h *Handler) SetAddress(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto addressDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	s.Quote.SetAddress(dto.Address)
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

func (h *Handler) SetRecipient(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto recipientDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	s.Quote.SetRecipient(domain.Recipient{
		FirstName: dto.FirstName,
		LastName:  dto.LastName,
		Phone:     dto.Phone,
		Email:     dto.Email,
	})
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

func (h *Handler) SearchPoints(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto pointSearchDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	view, err := s.Quote.SearchPoints(r.Context(), dto.Location)
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

func (h *Handler) SelectPoint(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto pointDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	if err := s.Quote.SelectPointByID(dto.ID); err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

// RequestOffers asks the backend for delivery offers. An empty answer is a normal
// OFFERS_EMPTY view, not an error.
func (h *Handler) RequestOffers(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	view, err := s.Quote.RequestOffers(r.Context())
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

func (h *Handler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto offerDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	if err := s.Quote.SelectOffer(dto.OfferID); err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, s.Quote.View())
}

// Summary returns the confirmation totals for the current cart and selected offer.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	summary, err := s.Checkout.Summary()
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, summary)
}

// Submit places the order and returns the payment redirect.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto emailDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	res, err := s.Submit(r.Context(), dto.Email)
	if err != nil {
		respondOrderErr(w, r, mLogger, res.OrderToken, err)
		return
	}
	mLogger.InfoContext(r.Context(), "Order submitted", "order_token", res.OrderToken)
	web.RespondJSON(w, mLogger, http.StatusCreated, res)
}

// Reauthenticated is called by the client after the user signed in again.
func (h *Handler) Reauthenticated(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	s.Guard.Reauthenticated()
	w.WriteHeader(http.StatusNoContent)
}

// GetOrder starts watching the order if needed and returns the watcher snapshot.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	rec, err := s.Watch(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, rec.Snapshot())
}

// RefreshOrder asks the backend to re-check the payment now.
func (h *Handler) RefreshOrder(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	rec, err := s.Watch(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	if _, err := rec.Refresh(r.Context()); err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, rec.Snapshot())
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto emailDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	rec, err := s.Watch(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	resp, err := rec.Pay(r.Context(), dto.Email)
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, map[string]string{"confirmation_url": resp.ConfirmationURL})
}

func (h *Handler) Unwatch(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	s.Unwatch(chi.URLParam(r, "token"))
	w.WriteHeader(http.StatusNoContent)
}

// IssueLink creates a public order link for the session's checkout on behalf of an operator.
func (h *Handler) IssueLink(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto linkDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	link, err := s.Links.Issue(r.Context(), Operator(r.Context()), checkout.LinkRequest{
		ReceiptEmail:    dto.ReceiptEmail,
		SendEmail:       dto.SendEmail,
		EmailTo:         dto.EmailTo,
		CopyToClipboard: dto.CopyToClipboard,
	})
	if err != nil {
		respondOrderErr(w, r, mLogger, link.OrderToken, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusCreated, link)
}

// Paste returns the last link copied to the session clipboard.
func (h *Handler) Paste(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	text, err := s.Clipboard.Paste(r.Context())
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, clipboardDto{Text: text})
}

func (h *Handler) RefreshDelivery(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	order, err := h.admin.RefreshDelivery(r.Context(), Operator(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, order)
}

func (h *Handler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	order, err := h.admin.CancelDelivery(r.Context(), Operator(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, order)
}

func (h *Handler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto statusDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	order, err := h.admin.OverrideStatus(r.Context(), Operator(r.Context()), chi.URLParam(r, "orderID"), domain.OrderStatus(dto.Status))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, order)
}

// GetVariant returns the ledger's local view of a variant.
func (h *Handler) GetVariant(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	v, found := s.Inventory.View(chi.URLParam(r, "variantID"))
	if !found {
		web.RespondError(w, mLogger, http.StatusNotFound, "Variant not loaded, reconcile it first")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, v)
}

type adjustmentResponse struct {
	Variant        *domain.Variant `json:"variant,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Error          string          `json:"error,omitempty"`
}

// AdjustStock applies a signed stock delta and reconciles the variant. The Idempotency-Key
// header is reused when present; otherwise a new key is generated and returned.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var dto adjustmentDto
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &dto) {
		return
	}
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	adj := inventory.NewAdjustment(chi.URLParam(r, "variantID"), dto.Delta, dto.Reason)
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		adj.IdempotencyKey = key
	}
	v, err := s.Inventory.AdjustAndReconcile(r.Context(), adj)
	h.respondAdjustment(w, r, mLogger, s.Inventory, adj, v, err)
}

// RetryAdjustment resends the failed adjustment of a variant with its original key.
func (h *Handler) RetryAdjustment(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	variantID := chi.URLParam(r, "variantID")
	adj, found := s.Inventory.Draft(variantID)
	if !found {
		web.RespondError(w, mLogger, http.StatusNotFound, "No pending adjustment for variant "+variantID)
		return
	}
	if _, err := s.Inventory.Retry(r.Context(), variantID); err != nil {
		h.respondAdjustment(w, r, mLogger, s.Inventory, adj, domain.Variant{}, err)
		return
	}
	v, err := s.Inventory.Reconcile(r.Context(), variantID)
	if err != nil {
		v, _ = s.Inventory.View(variantID)
	}
	h.respondAdjustment(w, r, mLogger, s.Inventory, adj, v, err)
}

// DiscardAdjustment abandons the failed adjustment of a variant so a new one can be sent.
func (h *Handler) DiscardAdjustment(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	variantID := chi.URLParam(r, "variantID")
	adj, found := s.Inventory.Discard(variantID)
	if !found {
		web.RespondError(w, mLogger, http.StatusNotFound, "No pending adjustment for variant "+variantID)
		return
	}
	mLogger.InfoContext(r.Context(), "Stock adjustment discarded", "variant_id", variantID,
		"idempotency_key", adj.IdempotencyKey, "operator", Operator(r.Context()))
	web.RespondJSON(w, mLogger, http.StatusOK, adj)
}

func (h *Handler) respondAdjustment(w http.ResponseWriter, r *http.Request, logger *slog.Logger,
	ledger *inventory.Ledger, adj inventory.Adjustment, v domain.Variant, err error) {
	resp := adjustmentResponse{IdempotencyKey: adj.IdempotencyKey}
	if v.ID != "" {
		resp.Variant = &v
	}
	if err == nil {
		web.RespondJSON(w, logger, http.StatusOK, resp)
		return
	}
	if _, pending := ledger.Draft(adj.VariantID); !pending && resp.Variant != nil {
		// the command was applied, only the reconciling read failed
		resp.Error = err.Error()
		logger.WarnContext(r.Context(), "Stock adjusted but not reconciled", "variant_id", adj.VariantID, "error", err)
		web.RespondJSON(w, logger, http.StatusAccepted, resp)
		return
	}
	status := statusOf(err)
	logger.WarnContext(r.Context(), "Stock adjustment failed", "variant_id", adj.VariantID, "status", status, "error", err)
	resp.Error = err.Error()
	web.RespondJSON(w, logger, status, resp)
}

func (h *Handler) ReconcileVariant(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	s, ok := h.session(w, r, mLogger)
	if !ok {
		return
	}
	v, err := s.Inventory.Reconcile(r.Context(), chi.URLParam(r, "variantID"))
	if err != nil {
		respondErr(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, v)
}
