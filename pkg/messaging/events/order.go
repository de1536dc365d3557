package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/storefront/pkg/messaging"
)

// OrderSubmittedEvent is emitted once the backend accepts a checkout.
type OrderSubmittedEvent struct {
	SessionID      string    `json:"session_id"`
	CartID         string    `json:"cart_id"`
	OrderToken     string    `json:"order_token,omitempty"`
	OfferID        string    `json:"offer_id"`
	ItemsTotal     int64     `json:"items_total"`
	DeliveryAmount int64     `json:"delivery_amount"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (o OrderSubmittedEvent) Subject() string {
	return messaging.OrderSubmittedSubject
}

func (o OrderSubmittedEvent) Payload() ([]byte, error) {
	return json.Marshal(o)
}

// PublicLinkIssuedEvent is emitted when a manager creates a shareable order link.
type PublicLinkIssuedEvent struct {
	SessionID  string    `json:"session_id"`
	CartID     string    `json:"cart_id"`
	OrderToken string    `json:"order_token"`
	IssuedBy   string    `json:"issued_by,omitempty"`
	EmailedTo  string    `json:"emailed_to,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

func (e PublicLinkIssuedEvent) Subject() string {
	return messaging.PublicLinkIssuedSubject
}

func (e PublicLinkIssuedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
