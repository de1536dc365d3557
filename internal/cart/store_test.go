package cart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend keeps carts in memory and prices every variant at 1000.
type fakeBackend struct {
	carts     map[string]*domain.Cart
	created   int
	gets      int
	mutateErr error
	getErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{carts: make(map[string]*domain.Cart)}
}

func (f *fakeBackend) CreateCart(context.Context) (*domain.Cart, error) {
	f.created++
	c := &domain.Cart{ID: fmt.Sprintf("cart-%d", f.created)}
	f.carts[c.ID] = c
	return c.Clone(), nil
}

func (f *fakeBackend) GetCart(_ context.Context, id string) (*domain.Cart, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.carts[id]
	if !ok {
		return nil, sferrors.ErrNotFound
	}
	return c.Clone(), nil
}

func (f *fakeBackend) AddItem(_ context.Context, id string, item backend.AddItemRequest) error {
	if f.mutateErr != nil {
		return f.mutateErr
	}
	c := f.carts[id]
	c.Items = append(c.Items, domain.CartItem{
		ID:         fmt.Sprintf("item-%d", len(c.Items)+1),
		ProductRef: item.ProductRef,
		VariantID:  item.VariantID,
		Quantity:   item.Quantity,
		UnitPrice:  1000,
	})
	return nil
}

func (f *fakeBackend) UpdateItem(_ context.Context, id, itemID string, quantity int32) error {
	if f.mutateErr != nil {
		return f.mutateErr
	}
	for i := range f.carts[id].Items {
		if f.carts[id].Items[i].ID == itemID {
			f.carts[id].Items[i].Quantity = quantity
			return nil
		}
	}
	return sferrors.ErrNotFound
}

func (f *fakeBackend) RemoveItem(_ context.Context, id, itemID string) error {
	if f.mutateErr != nil {
		return f.mutateErr
	}
	c := f.carts[id]
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return sferrors.ErrNotFound
}

func newTestStore(b Backend, slots kv.Store) *Store {
	return NewStore(b, slots, "s1", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func Test_EnsureCart_IsIdempotent(t *testing.T) {
	// given
	fb := newFakeBackend()
	slots := kv.NewMemoryStore()
	store := newTestStore(fb, slots)

	// when
	first, err1 := store.EnsureCart(context.Background())
	second, err2 := store.EnsureCart(context.Background())

	// then
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fb.created)
	id, err := slots.Get(context.Background(), "cart:s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)
}

func Test_EnsureCart_ReusesPersistedIdentity(t *testing.T) {
	// given
	fb := newFakeBackend()
	fb.carts["cart-old"] = &domain.Cart{ID: "cart-old", Items: []domain.CartItem{{ID: "i1", Quantity: 1}}}
	slots := kv.NewMemoryStore()
	require.NoError(t, slots.Set(context.Background(), SlotKey("s1"), "cart-old"))

	// when a new store is created for the same session, as after a reload
	cart, err := newTestStore(fb, slots).EnsureCart(context.Background())

	// then
	require.NoError(t, err)
	assert.Equal(t, "cart-old", cart.ID)
	assert.Len(t, cart.Items, 1)
	assert.Zero(t, fb.created)
}

func Test_EnsureCart_ReplacesVanishedCart(t *testing.T) {
	fb := newFakeBackend()
	slots := kv.NewMemoryStore()
	require.NoError(t, slots.Set(context.Background(), SlotKey("s1"), "cart-gone"))

	cart, err := newTestStore(fb, slots).EnsureCart(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "cart-1", cart.ID)
	id, _ := slots.Get(context.Background(), SlotKey("s1"))
	assert.Equal(t, "cart-1", id)
}

func Test_Mutations_RefetchCanonicalState(t *testing.T) {
	// given
	fb := newFakeBackend()
	store := newTestStore(fb, kv.NewMemoryStore())
	ctx := context.Background()

	// when
	cart, err := store.AddItem(ctx, "p1", "v1", 2)
	require.NoError(t, err)
	cart, err = store.AddItem(ctx, "p2", "v2", 1)
	require.NoError(t, err)

	// then
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, int64(3000), cart.ItemsTotal())

	cart, err = store.UpdateItem(ctx, "item-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), cart.Items[0].Quantity)

	cart, err = store.RemoveItem(ctx, "item-2")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, cart, store.Snapshot())
}

func Test_Mutations_FailureLeavesStateUntouched(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(s *Store) error
		setup  func(fb *fakeBackend)
		expect error
	}{
		{
			name:   "add fails",
			setup:  func(fb *fakeBackend) { fb.mutateErr = sferrors.ErrBackendUnavailable },
			mutate: func(s *Store) error { _, err := s.AddItem(context.Background(), "p", "v9", 1); return err },
			expect: sferrors.ErrBackendUnavailable,
		},
		{
			name:   "refresh after update fails",
			setup:  func(fb *fakeBackend) { fb.getErr = sferrors.ErrBackendUnavailable },
			mutate: func(s *Store) error { _, err := s.UpdateItem(context.Background(), "item-1", 7); return err },
			expect: sferrors.ErrBackendUnavailable,
		},
		{
			name:   "zero quantity",
			setup:  func(*fakeBackend) {},
			mutate: func(s *Store) error { _, err := s.UpdateItem(context.Background(), "item-1", 0); return err },
			expect: sferrors.ErrInvalidQuantity,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			fb := newFakeBackend()
			store := newTestStore(fb, kv.NewMemoryStore())
			before, err := store.AddItem(context.Background(), "p1", "v1", 2)
			require.NoError(t, err)
			tc.setup(fb)

			// when
			err = tc.mutate(store)

			// then
			assert.ErrorIs(t, err, tc.expect)
			assert.Equal(t, before, store.Snapshot())
		})
	}
}

func Test_Clear_StartsFreshCart(t *testing.T) {
	// given
	fb := newFakeBackend()
	slots := kv.NewMemoryStore()
	store := newTestStore(fb, slots)
	_, err := store.AddItem(context.Background(), "p1", "v1", 1)
	require.NoError(t, err)

	// when
	require.NoError(t, store.Clear(context.Background()))

	// then
	assert.Nil(t, store.Snapshot())
	_, err = slots.Get(context.Background(), SlotKey("s1"))
	assert.True(t, errors.Is(err, sferrors.ErrNotFound))
	cart, err := store.EnsureCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cart-2", cart.ID)
	assert.True(t, cart.IsEmpty())
}
