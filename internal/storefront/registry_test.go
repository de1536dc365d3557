package storefront

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/backend/backendtest"
	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/checkout"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/inventory"
	"github.com/abgdnv/storefront/internal/kv"
	"github.com/abgdnv/storefront/internal/payment"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	server      *backendtest.Server
	slots       *kv.MemoryStore
	broadcaster *session.Broadcaster
	registry    *Registry
	now         time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Now()}
	clock := func() time.Time { return e.now }
	e.server = backendtest.NewServer(clock)
	t.Cleanup(e.server.Close)
	client, err := backend.NewClient(e.server.URL, e.server.Client(), auth.ForwardedBearer{}, discard)
	require.NoError(t, err)
	e.slots = kv.NewMemoryStore()
	e.broadcaster = session.NewBroadcaster(discard)
	e.registry = NewRegistry(Deps{
		Backend:     client,
		Slots:       e.slots,
		Broadcaster: e.broadcaster,
		Polling:     config.PollingConfig{InitialDelay: 5 * time.Millisecond, Interval: 5 * time.Millisecond, MaxAttempts: 24},
		ReturnURL:   "https://shop.example/orders",
		Logger:      discard,
		Now:         clock,
	})
	t.Cleanup(e.registry.Close)
	return e
}

func fillCourierQuote(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Cart.AddItem(ctx, "p1", "v1", 2)
	require.NoError(t, err)
	c, err := s.Cart.AddItem(ctx, "p2", "v2", 1)
	require.NoError(t, err)
	require.Equal(t, int64(3000), c.ItemsTotal())

	require.NoError(t, s.Quote.SetDeliveryType(domain.DeliveryCourier))
	s.Quote.SetAddress("Main st 1")
	s.Quote.SetRecipient(domain.Recipient{FirstName: "Anna", Phone: "+79990000000"})
}

func Test_HappyPath(t *testing.T) {
	// given a cart with two items totalling 3000 and a courier quote
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	fillCourierQuote(t, s)
	view, err := s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)
	require.Equal(t, "off-1", view.Selected.OfferID)

	// when the offer is accepted within its lifetime
	e.now = e.now.Add(300 * time.Second)
	res, err := s.Submit(context.Background(), "anna@example.com")

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(3500), res.Summary.Total)
	assert.NotEmpty(t, res.ConfirmationURL)
	order, ok := e.server.Order(res.OrderToken)
	require.True(t, ok)
	assert.Equal(t, int64(3500), order.GrandTotal())
	assert.NoError(t, order.CheckTotals(&domain.DeliveryOffer{OfferID: "off-1", Pricing: 500}))
	assert.Nil(t, s.Cart.Snapshot(), "cart is cleared once the backend accepted the order")
	_, err = e.slots.Get(context.Background(), cart.SlotKey("s1"))
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	// and polling converges to PAID within three polls and stops
	w, err := s.Watch(context.Background(), res.OrderToken)
	require.NoError(t, err)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop")
	}
	snap := w.Snapshot()
	assert.Equal(t, payment.PhaseSettled, snap.Phase)
	assert.Equal(t, domain.StatusPaid, snap.Order.Status)
	assert.LessOrEqual(t, e.server.Refreshes(res.OrderToken), 3)
	polls := e.server.Refreshes(res.OrderToken)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, e.server.Refreshes(res.OrderToken))

	same, err := s.Watch(context.Background(), res.OrderToken)
	require.NoError(t, err)
	assert.Same(t, w, same)
}

func Test_ExpiredOfferIsRejectedLocally(t *testing.T) {
	// given
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	fillCourierQuote(t, s)
	_, err = s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)

	// when the offer's lifetime passes before submission
	e.now = e.now.Add(601 * time.Second)
	_, err = s.Submit(context.Background(), "anna@example.com")

	// then
	assert.ErrorIs(t, err, sferrors.ErrOfferExpired)
	assert.NotNil(t, s.Cart.Snapshot(), "cart survives a rejected checkout")
}

func Test_CartChangeAfterQuoteRejectsCheckout(t *testing.T) {
	// given offers quoted for the 3000 cart
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	fillCourierQuote(t, s)
	_, err = s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)

	// when another item is added before checkout
	c, err := s.Cart.AddItem(context.Background(), "p3", "v3", 5)
	require.NoError(t, err)
	require.Greater(t, c.ItemsTotal(), int64(3000))
	_, err = s.Submit(context.Background(), "anna@example.com")

	// then the old delivery price is not charged
	assert.ErrorIs(t, err, sferrors.ErrQuoteStale)
	assert.True(t, s.Quote.View().Stale)
	assert.NotNil(t, s.Cart.Snapshot(), "cart survives a rejected checkout")

	// and checkout succeeds after requoting the current cart
	_, err = s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)
	res, err := s.Submit(context.Background(), "anna@example.com")
	require.NoError(t, err)
	assert.Equal(t, c.ItemsTotal()+res.Summary.DeliveryAmount, res.Summary.Total)
}

func Test_CartSurvivesNewSession(t *testing.T) {
	// given
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	c, err := s.Cart.AddItem(context.Background(), "p1", "v1", 1)
	require.NoError(t, err)

	// when the process forgets the session, as after a restart
	e.registry.Remove("s1")
	again, err := e.registry.Session("s1")
	require.NoError(t, err)
	restored, err := again.Cart.EnsureCart(context.Background())

	// then
	require.NoError(t, err)
	assert.Equal(t, c.ID, restored.ID)
	assert.Len(t, restored.Items, 1)
}

func Test_DuplicateStockRetry(t *testing.T) {
	// given
	e := newEnv(t)
	e.server.SetStock("variant-9", 10)
	s, err := e.registry.Session("admin")
	require.NoError(t, err)
	adj := inventory.Adjustment{VariantID: "variant-9", Delta: -1, Reason: "manual", IdempotencyKey: "admin-9-171234"}

	// when the same adjustment is sent twice
	_, err = s.Inventory.Adjust(context.Background(), adj)
	require.NoError(t, err)
	v, err := s.Inventory.AdjustAndReconcile(context.Background(), adj)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Stock)
	assert.Equal(t, int64(9), e.server.Stock("variant-9"))
	assert.Equal(t, 2, e.server.AdjustCalls())
}

func Test_SessionInvalidation(t *testing.T) {
	// given
	e := newEnv(t)
	s1, err := e.registry.Session("s1")
	require.NoError(t, err)
	s2, err := e.registry.Session("s2")
	require.NoError(t, err)
	fillCourierQuote(t, s1)
	_, err = s1.Quote.RequestOffers(context.Background())
	require.NoError(t, err)

	// when
	e.broadcaster.Broadcast(context.Background(), events.SessionInvalidatedEvent{SessionID: "s1", Reason: "token expired"})

	// then
	_, err = s1.Submit(context.Background(), "anna@example.com")
	assert.ErrorIs(t, err, sferrors.ErrReauthRequired)
	assert.False(t, s2.Guard.Invalidated())

	s1.Guard.Reauthenticated()
	_, err = s1.Submit(context.Background(), "anna@example.com")
	assert.NoError(t, err)
}

func Test_WatchResumesPollingAfterReauthentication(t *testing.T) {
	// given a pending order whose session is invalidated before it is watched
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	fillCourierQuote(t, s)
	_, err = s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)
	res, err := s.Submit(context.Background(), "anna@example.com")
	require.NoError(t, err)
	e.broadcaster.Broadcast(context.Background(), events.SessionInvalidatedEvent{SessionID: "s1", Reason: "token expired"})

	w, err := s.Watch(context.Background(), res.OrderToken)
	require.NoError(t, err)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop on invalidation")
	}
	require.Equal(t, payment.PhaseStopped, w.Snapshot().Phase)
	require.Equal(t, 0, e.server.Refreshes(res.OrderToken))

	// when the customer signs in again and reopens the order
	s.Guard.Reauthenticated()
	again, err := s.Watch(context.Background(), res.OrderToken)
	require.NoError(t, err)

	// then a fresh watcher polls the order to PAID
	assert.NotSame(t, w, again)
	select {
	case <-again.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not resume")
	}
	snap := again.Snapshot()
	assert.Equal(t, payment.PhaseSettled, snap.Phase)
	require.NotNil(t, snap.Order)
	assert.Equal(t, domain.StatusPaid, snap.Order.Status)
	_, err = w.Refresh(context.Background())
	assert.ErrorIs(t, err, sferrors.ErrReconcilerStopped, "the replaced watcher is torn down")
}

func Test_ManagerLinkCopiesToClipboard(t *testing.T) {
	e := newEnv(t)
	s, err := e.registry.Session("s1")
	require.NoError(t, err)
	fillCourierQuote(t, s)
	_, err = s.Quote.RequestOffers(context.Background())
	require.NoError(t, err)

	link, err := s.Links.Issue(context.Background(), "manager-1", checkout.LinkRequest{
		SendEmail:       true,
		EmailTo:         "anna@example.com",
		CopyToClipboard: true,
	})

	require.NoError(t, err)
	assert.True(t, link.Copied)
	assert.True(t, link.Emailed)
	pasted, err := s.Clipboard.Paste(context.Background())
	require.NoError(t, err)
	assert.Equal(t, link.URL, pasted)
}

func Test_SweepAndClose(t *testing.T) {
	// given
	e := newEnv(t)
	_, err := e.registry.Session("old")
	require.NoError(t, err)
	e.now = e.now.Add(time.Hour)
	_, err = e.registry.Session("fresh")
	require.NoError(t, err)

	// when
	removed := e.registry.Sweep(30 * time.Minute)

	// then
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, e.registry.Len())

	e.registry.Close()
	_, err = e.registry.Session("late")
	assert.ErrorIs(t, err, sferrors.ErrShuttingDown)
}
