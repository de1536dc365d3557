package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
)

type AdminBackend interface {
	RefreshDelivery(ctx context.Context, orderID string) (domain.Order, error)
	CancelDelivery(ctx context.Context, orderID string) (domain.Order, error)
	OverrideStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
}

// Admin runs administrative order operations addressed by internal order id.
// Status and delivery status stay backend-owned; these calls ask the backend to change them.
type Admin struct {
	backend AdminBackend
	logger  *slog.Logger
}

func NewAdmin(b AdminBackend, logger *slog.Logger) *Admin {
	return &Admin{backend: b, logger: logger.With("component", "order-admin")}
}

// RefreshDelivery re-reads the delivery booking from the carrier.
func (a *Admin) RefreshDelivery(ctx context.Context, actor, orderID string) (domain.Order, error) {
	order, err := a.backend.RefreshDelivery(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to refresh delivery of order %s: %w", orderID, err)
	}
	a.logger.InfoContext(ctx, "Delivery refreshed", "order_id", orderID, "actor", actor, "delivery_status", order.DeliveryStatus)
	return order, nil
}

// CancelDelivery cancels the delivery booking of an order.
func (a *Admin) CancelDelivery(ctx context.Context, actor, orderID string) (domain.Order, error) {
	order, err := a.backend.CancelDelivery(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to cancel delivery of order %s: %w", orderID, err)
	}
	a.logger.InfoContext(ctx, "Delivery cancelled", "order_id", orderID, "actor", actor, "delivery_status", order.DeliveryStatus)
	return order, nil
}

// OverrideStatus forces the order status. Unknown statuses are rejected locally.
func (a *Admin) OverrideStatus(ctx context.Context, actor, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %s", sferrors.ErrInvalidStatus, status)
	}
	order, err := a.backend.OverrideStatus(ctx, orderID, status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to override status of order %s: %w", orderID, err)
	}
	a.logger.WarnContext(ctx, "Order status overridden", "order_id", orderID, "actor", actor, "status", status)
	return order, nil
}
