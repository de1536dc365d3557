package domain

import (
	"fmt"
	"time"
)

// OrderStatus is the payment-side lifecycle of an order, owned by the backend.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusPaid       OrderStatus = "PAID"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
	StatusDelivered  OrderStatus = "DELIVERED"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaid, StatusCancelled, StatusRefunded, StatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether no further status change is expected from polling.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusRefunded, StatusDelivered:
		return true
	}
	return false
}

// Pollable reports whether the status is still converging and worth polling.
func (s OrderStatus) Pollable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Payable reports whether a payment may still be initiated for an order in this status.
func (s OrderStatus) Payable() bool {
	switch s {
	case StatusPaid, StatusDelivered, StatusRefunded:
		return false
	}
	return true
}

// DeliveryStatus is the carrier-side lifecycle, independent of OrderStatus.
type DeliveryStatus string

const (
	DeliveryStatusNone      DeliveryStatus = "NONE"
	DeliveryStatusCreated   DeliveryStatus = "CREATED"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusCancelled DeliveryStatus = "CANCELLED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

type OrderItem struct {
	ID         string `json:"id"`
	VariantID  string `json:"variant_id"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

type Order struct {
	ID                string         `json:"id"`
	PublicToken       string         `json:"public_token"`
	Status            OrderStatus    `json:"status"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	DeliveryProvider  string         `json:"delivery_provider,omitempty"`
	DeliveryMethod    DeliveryType   `json:"delivery_method,omitempty"`
	DeliveryRequestID string         `json:"delivery_request_id,omitempty"`
	DeliveryOfferID   string         `json:"delivery_offer_id,omitempty"`
	Items             []OrderItem    `json:"items"`
	TotalAmount       int64          `json:"total_amount"`
	DeliveryAmount    int64          `json:"delivery_amount"`
	Recipient         Recipient      `json:"recipient"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty"`
}

// ItemsTotal sums the item line totals.
func (o Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.TotalPrice
	}
	return total
}

// GrandTotal is what the customer pays: item lines plus delivery.
func (o Order) GrandTotal() int64 {
	return o.TotalAmount + o.DeliveryAmount
}

// CheckTotals verifies totalAmount against the item lines and, when an offer is given,
// deliveryAmount against the offer price.
func (o Order) CheckTotals(offer *DeliveryOffer) error {
	if sum := o.ItemsTotal(); sum != o.TotalAmount {
		return fmt.Errorf("order %s: total %d does not match item lines %d", o.ID, o.TotalAmount, sum)
	}
	if offer != nil && offer.Pricing != o.DeliveryAmount {
		return fmt.Errorf("order %s: delivery amount %d does not match offer %s price %d", o.ID, o.DeliveryAmount, offer.OfferID, offer.Pricing)
	}
	return nil
}

// Summary is the confirmation view shown before the customer is redirected to payment.
type Summary struct {
	ItemsTotal     int64 `json:"items_total"`
	DeliveryAmount int64 `json:"delivery_amount"`
	Total          int64 `json:"total"`
}

// NewSummary builds the confirmation summary for a cart and an accepted offer.
func NewSummary(cart *Cart, offer DeliveryOffer) Summary {
	items := cart.ItemsTotal()
	return Summary{
		ItemsTotal:     items,
		DeliveryAmount: offer.Pricing,
		Total:          items + offer.Pricing,
	}
}
