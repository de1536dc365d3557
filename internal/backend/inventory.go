package backend

import (
	"context"
	"net/http"

	"github.com/abgdnv/storefront/internal/domain"
)

type adjustStockRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type StockResult struct {
	Stock int64 `json:"stock"`
}

// AdjustStock applies a signed delta. The backend applies each idempotency key at most once,
// so resending the same key after a timeout is safe.
func (c *Client) AdjustStock(ctx context.Context, variantID string, delta int64, reason, idempotencyKey string) (StockResult, error) {
	var res StockResult
	err := c.do(ctx, request{
		op:             "adjust stock",
		method:         http.MethodPost,
		path:           "/inventory/variants/" + variantID + "/adjustments",
		body:           adjustStockRequest{Delta: delta, Reason: reason},
		idempotencyKey: idempotencyKey,
	}, &res)
	return res, err
}

func (c *Client) Variant(ctx context.Context, variantID string) (domain.Variant, error) {
	var v domain.Variant
	err := c.do(ctx, request{op: "get variant", method: http.MethodGet, path: "/inventory/variants/" + variantID}, &v)
	return v, err
}
