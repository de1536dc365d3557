package domain

import "time"

type DeliveryType string

const (
	DeliveryCourier DeliveryType = "COURIER"
	DeliveryPickup  DeliveryType = "PICKUP"
)

// Valid reports whether t is a known delivery type.
func (t DeliveryType) Valid() bool {
	return t == DeliveryCourier || t == DeliveryPickup
}

// DeliveryOffer is one time-boxed price quote. Offers are immutable once issued.
type DeliveryOffer struct {
	OfferID      string       `json:"offer_id"`
	DeliveryType DeliveryType `json:"delivery_type"`
	Pricing      int64        `json:"pricing"`
	IntervalFrom time.Time    `json:"interval_from"`
	IntervalTo   time.Time    `json:"interval_to"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Expired reports whether the offer can no longer be accepted at now.
func (o DeliveryOffer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// PickupPoint is a pickup location. Points without an ID come from map data only
// and are not valid checkout destinations.
type PickupPoint struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Confirmed reports whether the backend has issued an identifier for the point.
func (p PickupPoint) Confirmed() bool {
	return p.ID != ""
}

// PickupPoints is the result of a pickup location search.
type PickupPoints struct {
	RegionID string        `json:"region_id"`
	Points   []PickupPoint `json:"points"`
}

// Recipient is the person receiving the delivery.
type Recipient struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
}

// Complete reports whether the recipient has the fields delivery quoting needs.
func (r Recipient) Complete() bool {
	return r.FirstName != "" && r.Phone != ""
}

// Destination is where an order is delivered: a courier address or a confirmed pickup point.
type Destination struct {
	Type    DeliveryType `json:"type"`
	Address string       `json:"address,omitempty"`
	Point   *PickupPoint `json:"point,omitempty"`
}

// Ready reports whether the destination is concrete enough to quote or submit.
func (d Destination) Ready() bool {
	switch d.Type {
	case DeliveryCourier:
		return d.Address != ""
	case DeliveryPickup:
		return d.Point != nil && d.Point.Confirmed()
	default:
		return false
	}
}
