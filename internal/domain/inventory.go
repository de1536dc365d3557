package domain

// Variant is the inventory view of a product variant.
type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Stock     int64  `json:"stock"`
	Version   int32  `json:"version"`
}
