// Package messaging defines the events the storefront emits and the publisher port used to send them.
package messaging

import (
	"context"
	"log/slog"
)

const (
	OrderSubmittedSubject     = "storefront.orders.submitted"
	PublicLinkIssuedSubject   = "storefront.links.issued"
	SessionInvalidatedSubject = "auth.session.invalidated"
)

type Event interface {
	Subject() string
	Payload() ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. Used when event publishing is disabled.
type NopPublisher struct {
	Logger *slog.Logger
}

func (p NopPublisher) Publish(ctx context.Context, event Event) error {
	if p.Logger != nil {
		p.Logger.DebugContext(ctx, "event publishing disabled, dropping event", "subject", event.Subject())
	}
	return nil
}
