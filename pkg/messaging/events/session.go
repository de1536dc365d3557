package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/storefront/pkg/messaging"
)

// SessionInvalidatedEvent is broadcast by the auth service when a session token stops being valid.
// An empty SessionID invalidates every session.
type SessionInvalidatedEvent struct {
	SessionID     string    `json:"session_id"`
	Reason        string    `json:"reason"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}

func (e SessionInvalidatedEvent) Subject() string {
	return messaging.SessionInvalidatedSubject
}

func (e SessionInvalidatedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
