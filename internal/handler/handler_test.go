package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacart/internal/domain/auth"
	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/periodic"
)

var testSecret = []byte("test-secret")

// --- Fakes ---

type fakeOrders struct {
	OrderService

	placed    order.PlaceOrderRequest
	placeErr  error
	cancelled string
	status    string
	refunded  string
	getErr    error
	removeErr error
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	f.placed = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return testOrder("o-new", req.UserID), nil
}

func (f *fakeOrders) Get(_ context.Context, a auth.Actor, id string) (*order.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return testOrder(id, a.ID), nil
}

func (f *fakeOrders) Cancel(_ context.Context, userID, orderID, reason string) (*order.Order, error) {
	f.cancelled = reason
	return testOrder(orderID, userID), nil
}

func (f *fakeOrders) UpdateStatusByVendor(_ context.Context, _, orderID, status string) (*order.Order, error) {
	if status == "Delivered" {
		return nil, order.ErrInvalidTransition
	}
	f.status = status
	return testOrder(orderID, "u1"), nil
}

func (f *fakeOrders) Refund(_ context.Context, orderID, note string) (*order.Order, error) {
	f.refunded = note
	return testOrder(orderID, "u1"), nil
}

func (f *fakeOrders) RemoveDelivered(context.Context, string, string) error {
	return f.removeErr
}

type fakeCarts struct {
	CartService
	added int
}

func (f *fakeCarts) Get(_ context.Context, userID string) (*cart.View, error) {
	return &cart.View{Cart: &cart.Cart{UserID: userID}}, nil
}

func (f *fakeCarts) AddItem(_ context.Context, userID, medicineID string, qty int) (*cart.View, error) {
	f.added = qty
	return &cart.View{Cart: &cart.Cart{
		UserID:  userID,
		Version: 3,
		Items:   []cart.Item{{MedicineID: medicineID, Name: "Paracetamol", Quantity: qty, MRP: decimal.RequireFromString("12.50")}},
	}}, nil
}

type fakePlanner struct {
	req periodic.PlanRequest
}

func (f *fakePlanner) Plan(_ context.Context, req periodic.PlanRequest) ([]*order.Order, error) {
	f.req = req
	out := make([]*order.Order, len(req.DeliveryDates))
	for i := range out {
		out[i] = testOrder("p"+string(rune('1'+i)), req.UserID)
	}
	return out, nil
}

type fakeKeys map[string]*auth.APIKeyInfo

func (f fakeKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := f[hash]; ok {
		return info, nil
	}
	return nil, auth.ErrUnauthorized
}

// --- Helpers ---

func testOrder(id, userID string) *order.Order {
	return order.New(order.NewParams{
		ID:      id,
		UserID:  userID,
		Items:   []order.Item{{MedicineID: "m1", Name: "Paracetamol", Quantity: 1, UnitPrice: decimal.NewFromInt(10), PharmacyID: "ph1"}},
		Payment: order.Payment{Method: payment.MethodCashOnDelivery, Status: payment.StatusCashOnDelivery},
		At:      time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	})
}

type testEnv struct {
	orders  *fakeOrders
	carts   *fakeCarts
	planner *fakePlanner
	bearer  *BearerAuth
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pepper := []byte("pepper")
	keys := fakeKeys{
		auth.HashKey(pepper, "refund-key"): {ID: "k1", KeyHash: auth.HashKey(pepper, "refund-key"), Scopes: []string{auth.ScopeRefund}},
		auth.HashKey(pepper, "read-key"):   {ID: "k2", KeyHash: auth.HashKey(pepper, "read-key")},
	}
	env := &testEnv{
		orders:  &fakeOrders{},
		carts:   &fakeCarts{},
		planner: &fakePlanner{},
		bearer:  NewBearerAuth(testSecret, "pharmacart"),
	}
	h := New(env.orders, env.carts, env.planner, nil)
	env.router = NewRouter(h, env.bearer, NewKeyAuth(keys, pepper), Probes{
		Live: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
	})
	return env
}

func (env *testEnv) token(t *testing.T, role auth.Role, id string) string {
	t.Helper()
	tok, err := env.bearer.Issue(auth.Actor{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (env *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var code string
	require.NoError(t, jx.DecodeBytes(rec.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		if key == "error" {
			s, err := d.Str()
			code = s
			return err
		}
		return d.Skip()
	}))
	return code
}

// --- Tests ---

func TestPlaceOrder(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleCustomer, "u1")

	rec := env.do(t, http.MethodPost, "/api/orders", tok,
		`{"paymentMethod":"Online","transactionRef":"pay_1","couponCode":"HEALTH10","cartVersion":4,"addressId":null}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, jx.Valid(rec.Body.Bytes()))
	assert.Contains(t, rec.Body.String(), `"id":"o-new"`)

	got := env.orders.placed
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Online", got.PaymentMethod)
	assert.Equal(t, "pay_1", got.TransactionRef)
	assert.Equal(t, "HEALTH10", got.CouponCode)
	assert.Empty(t, got.AddressID)
	require.NotNil(t, got.CartVersion)
	assert.EqualValues(t, 4, *got.CartVersion)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", payment.ErrTransactionIDRequired, http.StatusBadRequest, "transaction_id_required"},
		{"payment", payment.ErrAmountMismatch.With(assert.AnError), http.StatusPaymentRequired, "payment_amount_mismatch"},
		{"conflict", cart.ErrStaleCart, http.StatusConflict, "stale_cart"},
		{"transition", order.ErrAlreadyTerminal, http.StatusBadRequest, "already_terminal"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.orders.placeErr = tt.err

			rec := env.do(t, http.MethodPost, "/api/orders", env.token(t, auth.RoleCustomer, "u1"), `{"paymentMethod":"COD"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
			assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
		})
	}
}

func TestPlaceOrder_BadBody(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleCustomer, "u1")

	for _, body := range []string{"", "{", `{"cartVersion":"x"}`, `[]`} {
		rec := env.do(t, http.MethodPost, "/api/orders", tok, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_body", errorCode(t, rec), body)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cart", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cart", env.token(t, auth.RoleRider, "r1"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))

	other := NewBearerAuth([]byte("other"), "pharmacart")
	tok, err := other.Issue(auth.Actor{ID: "u1", Role: auth.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/api/cart", tok, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_Expired(t *testing.T) {
	b := NewBearerAuth(testSecret, "")
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return issued }
	tok, err := b.Issue(auth.Actor{ID: "u1", Role: auth.RoleCustomer}, time.Minute)
	require.NoError(t, err)

	a, err := b.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", a.ID)

	b.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = b.Verify(tok)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestBearerAuth_RejectsUnknownRole(t *testing.T) {
	b := NewBearerAuth(testSecret, "")
	tok, err := b.Issue(auth.Actor{ID: "x", Role: "admin"}, time.Minute)
	require.NoError(t, err)

	_, err = b.Verify(tok)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestGetOrder_AnyRole(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/orders/o1", env.token(t, auth.RoleVendor, "ph1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"o1"`)

	env.orders.getErr = order.ErrNotFound
	rec = env.do(t, http.MethodGet, "/api/orders/o1", env.token(t, auth.RoleRider, "r1"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order_not_found", errorCode(t, rec))
}

func TestCancelOrder_OptionalBody(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleCustomer, "u1")

	rec := env.do(t, http.MethodPost, "/api/orders/o1/cancel", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.orders.cancelled)

	rec = env.do(t, http.MethodPost, "/api/orders/o1/cancel", tok, `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "changed my mind", env.orders.cancelled)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleVendor, "ph1")

	rec := env.do(t, http.MethodPut, "/api/orders/o1/status", tok, `{"status":"Processing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Processing", env.orders.status)

	rec = env.do(t, http.MethodPut, "/api/orders/o1/status", tok, `{"status":"Delivered"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/api/orders/o1/status", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status_required", errorCode(t, rec))
}

func TestRemoveOrder(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleCustomer, "u1")

	rec := env.do(t, http.MethodDelete, "/api/orders/o1", tok, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.orders.removeErr = order.ErrNotDelivered
	rec = env.do(t, http.MethodDelete, "/api/orders/o1", tok, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefundOrder_APIKey(t *testing.T) {
	env := newTestEnv(t)
	call := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/internal/orders/o1/refund", strings.NewReader(`{"note":"duplicate"}`))
		if key != "" {
			req.Header.Set(HeaderAPIKey, key)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("wrong").Code)
	assert.Equal(t, http.StatusForbidden, call("read-key").Code)

	rec := call("refund-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", env.orders.refunded)
}

func TestCart(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, auth.RoleCustomer, "u1")

	rec := env.do(t, http.MethodGet, "/api/cart", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pricing":null`)

	rec = env.do(t, http.MethodPost, "/api/cart/items", tok, `{"medicineId":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.carts.added)
	assert.Contains(t, rec.Body.String(), `"version":3`)
	assert.Contains(t, rec.Body.String(), `"mrp":12.50`)

	rec = env.do(t, http.MethodPost, "/api/cart/items", tok, `{"quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "medicine_id_required", errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/api/cart/items/m1", tok, `{"quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", errorCode(t, rec))
}

func TestPlanPeriodicOrders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/periodic-orders", env.token(t, auth.RoleCustomer, "u1"),
		`{"planType":"Weekly","items":[{"medicineId":"m1","quantity":2}],"deliveryDates":["2025-07-01","2025-07-08"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	n := 0
	require.NoError(t, jx.DecodeBytes(rec.Body.Bytes()).Arr(func(d *jx.Decoder) error {
		n++
		return d.Skip()
	}))
	assert.Equal(t, 2, n)
	assert.Equal(t, []periodic.Item{{MedicineID: "m1", Quantity: 2}}, env.planner.req.Items)
	assert.Equal(t, "u1", env.planner.req.UserID)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/livez", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
