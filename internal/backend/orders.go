package backend

import (
	"context"
	"net/http"

	"github.com/abgdnv/storefront/internal/domain"
)

type PayRequest struct {
	ReceiptEmail string `json:"receipt_email"`
	ReturnURL    string `json:"return_url"`
}

type PayResponse struct {
	ConfirmationURL string `json:"confirmation_url"`
}

type statusOverrideRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (c *Client) OrderByToken(ctx context.Context, token string) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, request{op: "get order", method: http.MethodGet, path: "/orders/public/" + token}, &order)
	return order, err
}

// RefreshPayment asks the backend to re-read the payment provider and returns the updated order.
func (c *Client) RefreshPayment(ctx context.Context, token string) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, request{op: "refresh payment", method: http.MethodPost, path: "/orders/public/" + token + "/refresh"}, &order)
	return order, err
}

func (c *Client) Pay(ctx context.Context, token string, req PayRequest) (PayResponse, error) {
	var resp PayResponse
	err := c.do(ctx, request{op: "initiate payment", method: http.MethodPost, path: "/orders/public/" + token + "/payments", body: req}, &resp)
	return resp, err
}

func (c *Client) RefreshDelivery(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, request{op: "refresh delivery", method: http.MethodPost, path: "/admin/orders/" + orderID + "/delivery/refresh"}, &order)
	return order, err
}

func (c *Client) CancelDelivery(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, request{op: "cancel delivery", method: http.MethodPost, path: "/admin/orders/" + orderID + "/delivery/cancel"}, &order)
	return order, err
}

func (c *Client) OverrideStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, request{
		op:     "override order status",
		method: http.MethodPatch,
		path:   "/admin/orders/" + orderID + "/status",
		body:   statusOverrideRequest{Status: status},
	}, &order)
	return order, err
}
