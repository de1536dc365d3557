package backend

import (
	"context"
	"net/http"

	"github.com/abgdnv/storefront/internal/domain"
)

type AddItemRequest struct {
	ProductRef string `json:"product_ref"`
	VariantID  string `json:"variant_id"`
	Quantity   int32  `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int32 `json:"quantity"`
}

func (c *Client) CreateCart(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, request{op: "create cart", method: http.MethodPost, path: "/carts"}, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, request{op: "get cart", method: http.MethodGet, path: "/carts/" + cartID}, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds a line to the cart. The response body is ignored; callers re-fetch the cart.
func (c *Client) AddItem(ctx context.Context, cartID string, item AddItemRequest) error {
	return c.do(ctx, request{op: "add cart item", method: http.MethodPost, path: "/carts/" + cartID + "/items", body: item}, nil)
}

func (c *Client) UpdateItem(ctx context.Context, cartID, itemID string, quantity int32) error {
	return c.do(ctx, request{
		op:     "update cart item",
		method: http.MethodPatch,
		path:   "/carts/" + cartID + "/items/" + itemID,
		body:   updateItemRequest{Quantity: quantity},
	}, nil)
}

func (c *Client) RemoveItem(ctx context.Context, cartID, itemID string) error {
	return c.do(ctx, request{op: "remove cart item", method: http.MethodDelete, path: "/carts/" + cartID + "/items/" + itemID}, nil)
}
