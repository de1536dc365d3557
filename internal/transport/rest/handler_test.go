package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/backend/backendtest"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/kv"
	"github.com/abgdnv/storefront/internal/payment"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/internal/storefront"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// MockVerifier is a mock implementation of the auth.Verifier interface.
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, tokenString string) (jwt.Token, error) {
	args := m.Called(ctx, tokenString)
	var token jwt.Token
	if args.Get(0) != nil {
		token = args.Get(0).(jwt.Token)
	}
	return token, args.Error(1)
}

func operatorToken(t *testing.T, roles ...any) jwt.Token {
	t.Helper()
	token, err := jwt.NewBuilder().
		Subject("operator-1").
		Claim("roles", roles).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	return token
}

type env struct {
	backend  *backendtest.Server
	slots    *kv.MemoryStore
	router   *chi.Mux
	verifier *MockVerifier
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Now(), verifier: new(MockVerifier)}
	clock := func() time.Time { return e.now }
	e.backend = backendtest.NewServer(clock)
	t.Cleanup(e.backend.Close)
	client, err := backend.NewClient(e.backend.URL, e.backend.Client(), auth.ForwardedBearer{}, discard)
	require.NoError(t, err)
	e.slots = kv.NewMemoryStore()
	registry := storefront.NewRegistry(storefront.Deps{
		Backend:     client,
		Slots:       e.slots,
		Broadcaster: session.NewBroadcaster(discard),
		Polling:     config.PollingConfig{InitialDelay: time.Hour, Interval: time.Hour, MaxAttempts: 1},
		ReturnURL:   "https://shop.example/orders",
		Logger:      discard,
		Now:         clock,
	})
	t.Cleanup(registry.Close)

	h := NewHandler(Deps{
		Registry:    registry,
		Admin:       payment.NewAdmin(client, discard),
		Verifier:    e.verifier,
		ManagerRole: "manager",
		Checks: []Check{
			{Name: "backend", Probe: client.Healthy},
			{Name: "storage", Probe: e.slots.Ping},
		},
		Logger: discard,
	})
	e.router = chi.NewRouter()
	h.RegisterRoutes(e.router)
	return e
}

type call struct {
	method  string
	path    string
	body    any
	session string
	headers map[string]string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.session != "" {
		req.Header.Set(web.XSessionId, c.session)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// fillCourierQuote builds a 3000 cart and a courier quote with off-1 selected.
func (e *env) fillCourierQuote(t *testing.T, sessionID string) {
	t.Helper()
	steps := []call{
		{method: http.MethodPost, path: "/api/v1/cart/items", body: map[string]any{"product_ref": "p1", "variant_id": "v1", "quantity": 2}},
		{method: http.MethodPost, path: "/api/v1/cart/items", body: map[string]any{"product_ref": "p2", "variant_id": "v2", "quantity": 1}},
		{method: http.MethodPut, path: "/api/v1/delivery/type", body: map[string]string{"type": "COURIER"}},
		{method: http.MethodPut, path: "/api/v1/delivery/address", body: map[string]string{"address": "Main st 1"}},
		{method: http.MethodPut, path: "/api/v1/delivery/recipient", body: map[string]string{"first_name": "Anna", "phone": "+79990000000"}},
		{method: http.MethodPost, path: "/api/v1/delivery/offers"},
	}
	for _, c := range steps {
		c.session = sessionID
		rr := e.do(t, c)
		require.Equal(t, http.StatusOK, rr.Code, "%s %s: %s", c.method, c.path, rr.Body.String())
	}
}

func Test_SessionHeaderRequired(t *testing.T) {
	// given
	e := newEnv(t)

	// when
	rr := e.do(t, call{method: http.MethodGet, path: "/api/v1/cart/"})

	// then
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func Test_CartOperations(t *testing.T) {
	// given
	e := newEnv(t)

	// when
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", session: "s1",
		body: map[string]any{"variant_id": "v1", "quantity": 2}})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	c := decode[domain.Cart](t, rr)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(2), c.Items[0].Quantity)

	// when
	rr = e.do(t, call{method: http.MethodPatch, path: "/api/v1/cart/items/" + c.Items[0].ID, session: "s1",
		body: map[string]any{"quantity": 5}})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int32(5), decode[domain.Cart](t, rr).Items[0].Quantity)

	// when
	rr = e.do(t, call{method: http.MethodDelete, path: "/api/v1/cart/items/" + c.Items[0].ID, session: "s1"})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decode[domain.Cart](t, rr).Items)
}

func Test_Validation(t *testing.T) {
	testCases := []struct {
		name         string
		call         call
		expectedCode int
	}{
		{
			name:         "Error - zero quantity",
			call:         call{method: http.MethodPost, path: "/api/v1/cart/items", body: map[string]any{"variant_id": "v1", "quantity": 0}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - unknown delivery type",
			call:         call{method: http.MethodPut, path: "/api/v1/delivery/type", body: map[string]string{"type": "DRONE"}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - empty pickup location",
			call:         call{method: http.MethodPost, path: "/api/v1/delivery/points/search", body: map[string]string{"location": ""}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - submit without email",
			call:         call{method: http.MethodPost, path: "/api/v1/checkout", body: map[string]string{}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Error - offers for an empty cart",
			call:         call{method: http.MethodPost, path: "/api/v1/delivery/offers"},
			expectedCode: http.StatusUnprocessableEntity,
		},
		{
			name:         "Error - summary without an offer",
			call:         call{method: http.MethodGet, path: "/api/v1/checkout/summary"},
			expectedCode: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			e := newEnv(t)
			tc.call.session = "s1"

			// when
			rr := e.do(t, tc.call)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, rr.Body.String())
		})
	}
}

func Test_CheckoutHappyPath(t *testing.T) {
	// given
	e := newEnv(t)
	e.fillCourierQuote(t, "s1")

	// when
	summary := e.do(t, call{method: http.MethodGet, path: "/api/v1/checkout/summary", session: "s1"})
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", session: "s1",
		body: map[string]string{"email": "anna@example.com"}})

	// then
	require.Equal(t, http.StatusOK, summary.Code, summary.Body.String())
	assert.Equal(t, int64(3500), decode[domain.Summary](t, summary).Total)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[map[string]any](t, rr)
	token, _ := res["order_token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "https://pay.example/confirm/"+token, res["confirmation_url"])

	// when the order is opened
	rr = e.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + token, session: "s1"})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decode[payment.Snapshot](t, rr)
	require.NotNil(t, snap.Order)
	assert.Equal(t, int64(3500), snap.Order.GrandTotal())
	assert.True(t, snap.CanPay)

	// when the status is refreshed manually
	rr = e.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + token + "/refresh", session: "s1"})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, e.backend.Refreshes(token))

	// when
	rr = e.do(t, call{method: http.MethodDelete, path: "/api/v1/orders/" + token + "/watch", session: "s1"})

	// then
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func Test_CheckoutExpiredOffer(t *testing.T) {
	// given
	e := newEnv(t)
	e.fillCourierQuote(t, "s1")
	e.now = e.now.Add(601 * time.Second)

	// when
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", session: "s1",
		body: map[string]string{"email": "anna@example.com"}})

	// then
	assert.Equal(t, http.StatusGone, rr.Code, rr.Body.String())
}

func Test_CheckoutRedirectMissingReturnsToken(t *testing.T) {
	// given
	e := newEnv(t)
	e.fillCourierQuote(t, "s1")
	e.backend.Configure(func(s *backendtest.Server) { s.OmitRedirect = true })

	// when
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", session: "s1",
		body: map[string]string{"email": "anna@example.com"}})

	// then
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rr)["order_token"])
}

func Test_EmptyQuoteIsNotAnError(t *testing.T) {
	// given
	e := newEnv(t)
	e.backend.Configure(func(s *backendtest.Server) {
		s.Offers = func(address string) []domain.DeliveryOffer { return nil }
	})

	// when
	e.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", session: "s1", body: map[string]any{"variant_id": "v1", "quantity": 1}})
	e.do(t, call{method: http.MethodPut, path: "/api/v1/delivery/type", session: "s1", body: map[string]string{"type": "COURIER"}})
	e.do(t, call{method: http.MethodPut, path: "/api/v1/delivery/address", session: "s1", body: map[string]string{"address": "Nowhere"}})
	e.do(t, call{method: http.MethodPut, path: "/api/v1/delivery/recipient", session: "s1", body: map[string]string{"first_name": "Anna", "phone": "+7999"}})
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/delivery/offers", session: "s1"})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "OFFERS_EMPTY", decode[map[string]any](t, rr)["state"])
}

func Test_ManagerRoutesRequireRole(t *testing.T) {
	testCases := []struct {
		name         string
		authHeader   string
		setupMock    func(t *testing.T, m *MockVerifier)
		expectedCode int
	}{
		{
			name:         "Error - no auth header",
			setupMock:    func(*testing.T, *MockVerifier) {},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:       "Error - invalid token",
			authHeader: "Bearer bad",
			setupMock: func(_ *testing.T, m *MockVerifier) {
				m.On("Verify", mock.Anything, "bad").Return(nil, errors.New("signature is invalid"))
			},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:       "Error - missing manager role",
			authHeader: "Bearer customer",
			setupMock: func(t *testing.T, m *MockVerifier) {
				m.On("Verify", mock.Anything, "customer").Return(operatorToken(t, "customer"), nil)
			},
			expectedCode: http.StatusForbidden,
		},
		{
			name:       "Success - manager reaches the handler",
			authHeader: "Bearer manager",
			setupMock: func(t *testing.T, m *MockVerifier) {
				m.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
			},
			expectedCode: http.StatusNotFound,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			e := newEnv(t)
			tc.setupMock(t, e.verifier)
			headers := map[string]string{}
			if tc.authHeader != "" {
				headers["Authorization"] = tc.authHeader
			}

			// when
			rr := e.do(t, call{method: http.MethodGet, path: "/api/v1/manager/clipboard", session: "s1", headers: headers})

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, rr.Body.String())
			e.verifier.AssertExpectations(t)
		})
	}
}

func Test_ManagerLinkIsCopiedToClipboard(t *testing.T) {
	// given
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	auth := map[string]string{"Authorization": "Bearer manager"}
	e.fillCourierQuote(t, "s1")

	// when
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/manager/links", session: "s1", headers: auth,
		body: map[string]any{"send_email": true, "email_to": "anna@example.com", "copy_to_clipboard": true}})

	// then
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	link := decode[map[string]any](t, rr)
	assert.Equal(t, true, link["emailed"])
	assert.Equal(t, true, link["copied"])

	// when
	rr = e.do(t, call{method: http.MethodGet, path: "/api/v1/manager/clipboard", session: "s1", headers: auth})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, link["url"], decode[map[string]string](t, rr)["text"])
}

func Test_OperatorTokenIsForwardedToBackend(t *testing.T) {
	// given
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	headers := map[string]string{"Authorization": "Bearer manager"}
	e.backend.SetStock("variant-9", 7)
	e.fillCourierQuote(t, "s1")

	// when
	link := e.do(t, call{method: http.MethodPost, path: "/api/v1/manager/links", session: "s1", headers: headers, body: map[string]any{}})
	adjust := e.do(t, call{method: http.MethodPost, path: "/api/v1/admin/inventory/variants/variant-9/adjustments", session: "s1",
		headers: headers, body: map[string]any{"delta": -1, "reason": "damaged"}})

	// then
	require.Equal(t, http.StatusCreated, link.Code, link.Body.String())
	require.Equal(t, http.StatusOK, adjust.Code, adjust.Body.String())
	assert.Equal(t, "Bearer manager", e.backend.Authorization("/checkout/public-links"))
	assert.Equal(t, "Bearer manager", e.backend.Authorization("/inventory/variants/variant-9/adjustments"))
	assert.Empty(t, e.backend.Authorization("/delivery/offers"), "customer calls stay anonymous")
}

func Test_StockAdjustmentRetryAppliesOnce(t *testing.T) {
	// given
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	e.backend.SetStock("variant-9", 7)
	headers := map[string]string{"Authorization": "Bearer manager", IdempotencyKeyHeader: "admin-9-171234"}
	path := "/api/v1/admin/inventory/variants/variant-9/adjustments"

	// when the same command is sent twice
	first := e.do(t, call{method: http.MethodPost, path: path, session: "s1", headers: headers, body: map[string]any{"delta": -1, "reason": "damaged"}})
	second := e.do(t, call{method: http.MethodPost, path: path, session: "s1", headers: headers, body: map[string]any{"delta": -1, "reason": "damaged"}})

	// then
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	resp := decode[adjustmentResponse](t, second)
	assert.Equal(t, "admin-9-171234", resp.IdempotencyKey)
	require.NotNil(t, resp.Variant)
	assert.Equal(t, int64(6), resp.Variant.Stock)
	assert.Equal(t, int64(6), e.backend.Stock("variant-9"))

	// when there is nothing to retry
	rr := e.do(t, call{method: http.MethodPost, path: path + "/retry", session: "s1", headers: headers})

	// then
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_FailedAdjustmentBlocksOthersUntilDiscarded(t *testing.T) {
	// given the backend is unreachable when the adjustment is sent
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	path := "/api/v1/admin/inventory/variants/variant-9/adjustments"
	first := map[string]string{"Authorization": "Bearer manager", IdempotencyKeyHeader: "admin-9-1"}
	second := map[string]string{"Authorization": "Bearer manager", IdempotencyKeyHeader: "admin-9-2"}
	e.backend.Close()

	// when
	failed := e.do(t, call{method: http.MethodPost, path: path, session: "s1", headers: first, body: map[string]any{"delta": -1, "reason": "damaged"}})
	refused := e.do(t, call{method: http.MethodPost, path: path, session: "s1", headers: second, body: map[string]any{"delta": 4, "reason": "restock"}})

	// then
	assert.Equal(t, http.StatusBadGateway, failed.Code, failed.Body.String())
	assert.Equal(t, http.StatusConflict, refused.Code, refused.Body.String())

	// when the failed adjustment is abandoned
	discarded := e.do(t, call{method: http.MethodDelete, path: path + "/draft", session: "s1", headers: first})
	again := e.do(t, call{method: http.MethodDelete, path: path + "/draft", session: "s1", headers: first})

	// then
	require.Equal(t, http.StatusOK, discarded.Code, discarded.Body.String())
	assert.Equal(t, "admin-9-1", decode[map[string]any](t, discarded)["idempotency_key"])
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func Test_StockAdjustmentGeneratesKey(t *testing.T) {
	// given
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	headers := map[string]string{"Authorization": "Bearer manager"}

	// when
	rr := e.do(t, call{method: http.MethodPost, path: "/api/v1/admin/inventory/variants/v1/adjustments", session: "s1",
		headers: headers, body: map[string]any{"delta": 5, "reason": "restock"}})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode[adjustmentResponse](t, rr).IdempotencyKey)

	// when
	rr = e.do(t, call{method: http.MethodGet, path: "/api/v1/admin/inventory/variants/v1", session: "s1", headers: headers})

	// then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(5), decode[domain.Variant](t, rr).Stock)
}

func Test_AdminOverrideStatus(t *testing.T) {
	// given
	e := newEnv(t)
	e.verifier.On("Verify", mock.Anything, "manager").Return(operatorToken(t, "manager"), nil)
	headers := map[string]string{"Authorization": "Bearer manager"}

	// when
	rr := e.do(t, call{method: http.MethodPatch, path: "/api/v1/admin/orders/order-1/status", session: "s1",
		headers: headers, body: map[string]string{"status": "LOST"}})

	// then
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}

func Test_Probes(t *testing.T) {
	// given
	e := newEnv(t)

	// when
	live := e.do(t, call{method: http.MethodGet, path: "/livez"})
	ready := e.do(t, call{method: http.MethodGet, path: "/readyz"})

	// then
	assert.Equal(t, http.StatusOK, live.Code)
	require.Equal(t, http.StatusOK, ready.Code, ready.Body.String())
	assert.Equal(t, map[string]string{"backend": "ok", "storage": "ok"}, decode[map[string]string](t, ready))

	// when the backend goes down
	e.backend.Configure(func(s *backendtest.Server) { s.Unhealthy = true })
	ready = e.do(t, call{method: http.MethodGet, path: "/readyz"})

	// then
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
	assert.NotEqual(t, "ok", decode[map[string]string](t, ready)["backend"])
}

func Test_statusOf(t *testing.T) {
	testCases := []struct {
		err      error
		expected int
	}{
		{sferrors.ErrCartEmpty, http.StatusUnprocessableEntity},
		{sferrors.ErrOfferExpired, http.StatusGone},
		{sferrors.ErrQuoteSuperseded, http.StatusConflict},
		{sferrors.ErrQuoteStale, http.StatusConflict},
		{sferrors.ErrNotFound, http.StatusNotFound},
		{sferrors.ErrReauthRequired, http.StatusUnauthorized},
		{sferrors.ErrBackendUnavailable, http.StatusBadGateway},
		{sferrors.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.expected, statusOf(tc.err))
		})
	}
}
