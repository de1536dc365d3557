// Package domain holds the storefront's view of carts, delivery quotes and orders.
// Values here are snapshots of backend state; the backend stays authoritative for all of them.
package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Cart is the canonical line-item state returned by the backend.
type Cart struct {
	ID    string     `json:"id"`
	Items []CartItem `json:"items"`
}

type CartItem struct {
	ID         string `json:"id"`
	ProductRef string `json:"product_ref,omitempty"`
	VariantID  string `json:"variant_id"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

// LineTotal is the item's quantity times its unit price.
func (i CartItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// ItemsTotal sums the line totals. It is used for confirmation summaries only.
func (c *Cart) ItemsTotal() int64 {
	if c == nil {
		return 0
	}
	var total int64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// Clone returns a deep copy so callers can't mutate the cached cart.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := &Cart{ID: c.ID, Items: make([]CartItem, len(c.Items))}
	copy(out.Items, c.Items)
	return out
}

// Fingerprint identifies the priced contents of the cart. Two snapshots with the same
// fingerprint quote the same delivery.
func (c *Cart) Fingerprint() string {
	if c == nil {
		return ""
	}
	items := slices.Clone(c.Items)
	slices.SortFunc(items, func(a, b CartItem) int { return strings.Compare(a.ID, b.ID) })
	var b strings.Builder
	b.WriteString(c.ID)
	for _, item := range items {
		fmt.Fprintf(&b, "|%s:%s:%d:%d", item.ID, item.VariantID, item.Quantity, item.UnitPrice)
	}
	return b.String()
}
