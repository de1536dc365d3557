package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/abgdnv/storefront/internal/domain"
)

// CheckoutRequest binds a cart to one accepted delivery offer.
type CheckoutRequest struct {
	CartID       string             `json:"cart_id"`
	OfferID      string             `json:"offer_id"`
	Destination  domain.Destination `json:"destination"`
	Recipient    domain.Recipient   `json:"recipient"`
	IntervalFrom time.Time          `json:"interval_from"`
	IntervalTo   time.Time          `json:"interval_to"`
	ReceiptEmail string             `json:"receipt_email"`
	ReturnURL    string             `json:"return_url,omitempty"`
}

type CheckoutResponse struct {
	OrderToken      string `json:"order_token"`
	ConfirmationURL string `json:"confirmation_url"`
}

// PublicLinkRequest is a checkout issued by a manager on the customer's behalf.
type PublicLinkRequest struct {
	CheckoutRequest
	SendEmail bool   `json:"send_email"`
	EmailTo   string `json:"email_to,omitempty"`
}

type PublicLinkResponse struct {
	OrderToken string `json:"order_token"`
	URL        string `json:"url"`
	Emailed    bool   `json:"emailed"`
}

func (c *Client) SubmitCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	var resp CheckoutResponse
	err := c.do(ctx, request{op: "submit checkout", method: http.MethodPost, path: "/checkout", body: req}, &resp)
	return resp, err
}

func (c *Client) CreatePublicLink(ctx context.Context, req PublicLinkRequest) (PublicLinkResponse, error) {
	var resp PublicLinkResponse
	err := c.do(ctx, request{op: "create public order link", method: http.MethodPost, path: "/checkout/public-links", body: req}, &resp)
	return resp, err
}
