// Package cart keeps the storefront's view of one session's shopping cart.
//
// The backend owns cart contents. Every mutation is followed by a full re-fetch and the local
// copy is replaced with the server's answer; nothing is computed locally.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/kv"
)

// Backend is the subset of the backend client the cart needs.
type Backend interface {
	CreateCart(ctx context.Context) (*domain.Cart, error)
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID string, item backend.AddItemRequest) error
	UpdateItem(ctx context.Context, cartID, itemID string, quantity int32) error
	RemoveItem(ctx context.Context, cartID, itemID string) error
}

// SlotKey is the durable key holding the cart identity of a session.
func SlotKey(sessionID string) string {
	return "cart:" + sessionID
}

// Store is the cart of one session. Calls are serialized, so a mutation and its re-fetch
// never interleave with another mutation of the same cart.
type Store struct {
	mu      sync.Mutex
	backend Backend
	slots   kv.Store
	key     string
	logger  *slog.Logger
	cart    *domain.Cart
}

func NewStore(b Backend, slots kv.Store, sessionID string, logger *slog.Logger) *Store {
	return &Store{
		backend: b,
		slots:   slots,
		key:     SlotKey(sessionID),
		logger:  logger.With("component", "cart"),
	}
}

// EnsureCart returns the session's cart, reusing a persisted identity when there is one
// and creating a new cart otherwise.
func (s *Store) EnsureCart(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return s.cart.Clone(), nil
}

func (s *Store) ensure(ctx context.Context) error {
	if s.cart != nil {
		return nil
	}

	cartID, err := s.slots.Get(ctx, s.key)
	switch {
	case err == nil:
		cart, err := s.backend.GetCart(ctx, cartID)
		if err == nil {
			s.cart = cart
			return nil
		}
		if !errors.Is(err, sferrors.ErrNotFound) {
			return fmt.Errorf("failed to load cart %s: %w", cartID, err)
		}
		s.logger.WarnContext(ctx, "Persisted cart no longer exists, creating a new one", "cart_id", cartID)
	case errors.Is(err, sferrors.ErrNotFound):
	default:
		return fmt.Errorf("failed to read cart identity: %w", err)
	}

	cart, err := s.backend.CreateCart(ctx)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	if err := s.slots.Set(ctx, s.key, cart.ID); err != nil {
		return fmt.Errorf("failed to persist cart identity: %w", err)
	}
	s.logger.InfoContext(ctx, "Cart created", "cart_id", cart.ID)
	s.cart = cart
	return nil
}

// AddItem adds quantity units of a variant and returns the re-fetched cart.
func (s *Store) AddItem(ctx context.Context, productRef, variantID string, quantity int32) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, sferrors.ErrInvalidQuantity
	}
	return s.mutate(ctx, "add item", func(cartID string) error {
		return s.backend.AddItem(ctx, cartID, backend.AddItemRequest{
			ProductRef: productRef,
			VariantID:  variantID,
			Quantity:   quantity,
		})
	})
}

// UpdateItem sets the quantity of a line item and returns the re-fetched cart.
func (s *Store) UpdateItem(ctx context.Context, itemID string, quantity int32) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, sferrors.ErrInvalidQuantity
	}
	return s.mutate(ctx, "update item", func(cartID string) error {
		return s.backend.UpdateItem(ctx, cartID, itemID, quantity)
	})
}

// RemoveItem deletes a line item and returns the re-fetched cart.
func (s *Store) RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, "remove item", func(cartID string) error {
		return s.backend.RemoveItem(ctx, cartID, itemID)
	})
}

// mutate runs op against the backend and then replaces the cached cart with a fresh copy.
// On any failure the cached cart is left as it was.
func (s *Store) mutate(ctx context.Context, name string, op func(cartID string) error) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	cartID := s.cart.ID
	if err := op(cartID); err != nil {
		s.logger.WarnContext(ctx, "Cart mutation failed", "op", name, "cart_id", cartID, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", name, err)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.cart.Clone(), nil
}

// Refresh re-fetches the cart from the backend.
func (s *Store) Refresh(ctx context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		if err := s.ensure(ctx); err != nil {
			return nil, err
		}
		return s.cart.Clone(), nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.cart.Clone(), nil
}

func (s *Store) refresh(ctx context.Context) error {
	cart, err := s.backend.GetCart(ctx, s.cart.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh cart %s: %w", s.cart.ID, err)
	}
	s.cart = cart
	return nil
}

// Snapshot returns the last canonical cart without a network call, or nil if no cart was loaded yet.
func (s *Store) Snapshot() *domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Clear forgets the cart: the persisted identity is removed and the next EnsureCart creates a new cart.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slots.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear cart identity: %w", err)
	}
	if s.cart != nil {
		s.logger.InfoContext(ctx, "Cart cleared", "cart_id", s.cart.ID)
	}
	s.cart = nil
	return nil
}
