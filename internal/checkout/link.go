package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abgdnv/storefront/internal/backend"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

// Clipboard receives a copy of an issued link on the operator's side.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// LinkRequest describes how a manager wants the order link delivered.
type LinkRequest struct {
	ReceiptEmail    string
	SendEmail       bool
	EmailTo         string
	CopyToClipboard bool
}

// Link is a shareable order and payment page issued for the session's cart.
type Link struct {
	OrderToken string `json:"order_token"`
	URL        string `json:"url"`
	Emailed    bool   `json:"emailed"`
	Copied     bool   `json:"copied"`
}

// ManagerLinkIssuer creates public order links on behalf of a customer
// instead of redirecting the current session to payment.
type ManagerLinkIssuer struct {
	deps      Deps
	clipboard Clipboard
	logger    *slog.Logger
}

// NewManagerLinkIssuer creates an issuer. clipboard may be nil when copying is not available.
func NewManagerLinkIssuer(deps Deps, clipboard Clipboard) *ManagerLinkIssuer {
	deps.defaults()
	return &ManagerLinkIssuer{
		deps:      deps,
		clipboard: clipboard,
		logger:    deps.Logger.With("component", "manager-link"),
	}
}

// Issue requests a public order link bound to the session cart and selected offer.
// Asking for an email without an address fails before any network call.
// A clipboard failure does not fail the link; it is reported as Copied=false.
func (m *ManagerLinkIssuer) Issue(ctx context.Context, issuedBy string, req LinkRequest) (Link, error) {
	if req.SendEmail && req.EmailTo == "" {
		return Link{}, fmt.Errorf("%w: email delivery requested without an address", sferrors.ErrEmailRequired)
	}
	p, err := m.deps.prepare(req.ReceiptEmail, false)
	if err != nil {
		return Link{}, err
	}

	resp, err := m.deps.Backend.CreatePublicLink(ctx, backend.PublicLinkRequest{
		CheckoutRequest: p.request,
		SendEmail:       req.SendEmail,
		EmailTo:         req.EmailTo,
	})

	if checkErr := p.attempt.Check(); checkErr != nil {
		m.logger.WarnContext(ctx, "Session invalidated while issuing order link", "cart_id", p.cart.ID)
		if err == nil && resp.OrderToken != "" {
			m.deps.committed(ctx, m.logger, resp.OrderToken)
		}
		return Link{OrderToken: resp.OrderToken}, checkErr
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "Order link rejected", "cart_id", p.cart.ID, "error", err)
		return Link{}, fmt.Errorf("failed to create order link: %w", err)
	}
	if resp.OrderToken != "" {
		m.deps.committed(ctx, m.logger, resp.OrderToken)
	}
	if resp.URL == "" {
		m.logger.ErrorContext(ctx, "Order link accepted without URL", "cart_id", p.cart.ID, "order_token", resp.OrderToken)
		return Link{OrderToken: resp.OrderToken}, sferrors.ErrLinkMissing
	}

	link := Link{OrderToken: resp.OrderToken, URL: resp.URL, Emailed: resp.Emailed}
	if req.CopyToClipboard && m.clipboard != nil {
		if err := m.clipboard.Copy(ctx, link.URL); err != nil {
			m.logger.WarnContext(ctx, "Failed to copy order link", "order_token", link.OrderToken, "error", err)
		} else {
			link.Copied = true
		}
	}

	ev := events.PublicLinkIssuedEvent{
		SessionID:  m.deps.SessionID,
		CartID:     p.cart.ID,
		OrderToken: link.OrderToken,
		IssuedBy:   issuedBy,
		IssuedAt:   m.deps.Now(),
	}
	if link.Emailed {
		ev.EmailedTo = req.EmailTo
	}
	m.deps.publish(ctx, m.logger, ev)
	m.logger.InfoContext(ctx, "Order link issued", "order_token", link.OrderToken, "issued_by", issuedBy, "emailed", link.Emailed)
	return link, nil
}
