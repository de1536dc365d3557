package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/abgdnv/storefront/internal/domain"
)

// OffersRequest asks the delivery provider to quote a cart for one destination and recipient.
type OffersRequest struct {
	CartID      string             `json:"cart_id"`
	Destination domain.Destination `json:"destination"`
	Recipient   domain.Recipient   `json:"recipient"`
}

type offersResponse struct {
	Offers []domain.DeliveryOffer `json:"offers"`
}

func (c *Client) PickupPoints(ctx context.Context, location string) (domain.PickupPoints, error) {
	var points domain.PickupPoints
	err := c.do(ctx, request{
		op:     "list pickup points",
		method: http.MethodGet,
		path:   "/delivery/pickup-points",
		query:  url.Values{"location": []string{location}},
	}, &points)
	return points, err
}

// DeliveryOffers returns offers in provider order.
func (c *Client) DeliveryOffers(ctx context.Context, req OffersRequest) ([]domain.DeliveryOffer, error) {
	var resp offersResponse
	if err := c.do(ctx, request{op: "list delivery offers", method: http.MethodPost, path: "/delivery/offers", body: req}, &resp); err != nil {
		return nil, err
	}
	return resp.Offers, nil
}
