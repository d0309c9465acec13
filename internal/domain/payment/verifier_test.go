package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockGateway struct {
	// fetches are returned in order; the last one repeats.
	fetches  []*RemotePayment
	fetchErr []error
	capErr   error

	fetchCalls int
	captured   []decimal.Decimal
}

func (m *mockGateway) Fetch(_ context.Context, _ string) (*RemotePayment, error) {
	i := m.fetchCalls
	m.fetchCalls++
	if i < len(m.fetchErr) && m.fetchErr[i] != nil {
		return nil, m.fetchErr[i]
	}
	if i >= len(m.fetches) {
		i = len(m.fetches) - 1
	}
	return m.fetches[i], nil
}

func (m *mockGateway) Capture(_ context.Context, _ string, amount decimal.Decimal, _ string) error {
	m.captured = append(m.captured, amount)
	return m.capErr
}

// --- Helpers ---

func remote(status, amount string) *RemotePayment {
	return &RemotePayment{ID: "pay_1", Status: status, Amount: decimal.RequireFromString(amount), Currency: "INR"}
}

// --- Tests ---

func TestVerifyAndCapture(t *testing.T) {
	total := decimal.RequireFromString("232.00")

	tests := []struct {
		name         string
		gw           *mockGateway
		ref          string
		wantErr      error
		wantCaptures int
		wantFetches  int
	}{
		{
			name:         "authorized then captured",
			gw:           &mockGateway{fetches: []*RemotePayment{remote("authorized", "232"), remote("captured", "232")}},
			ref:          "pay_1",
			wantCaptures: 1,
			wantFetches:  2,
		},
		{
			name:        "already captured is re-fetched without capture",
			gw:          &mockGateway{fetches: []*RemotePayment{remote("captured", "232")}},
			ref:         "pay_1",
			wantFetches: 2,
		},
		{
			name:         "re-fetch not captured",
			gw:           &mockGateway{fetches: []*RemotePayment{remote("authorized", "232"), remote("authorized", "232")}},
			ref:          "pay_1",
			wantErr:      ErrPaymentNotCaptured,
			wantCaptures: 1,
			wantFetches:  2,
		},
		{
			name:        "failed remote status",
			gw:          &mockGateway{fetches: []*RemotePayment{remote("failed", "232")}},
			ref:         "pay_1",
			wantErr:     ErrPaymentNotCaptured,
			wantFetches: 2,
		},
		{
			name:    "missing reference",
			gw:      &mockGateway{},
			ref:     "  ",
			wantErr: ErrTransactionIDRequired,
		},
		{
			name:        "amount mismatch",
			gw:          &mockGateway{fetches: []*RemotePayment{remote("authorized", "200")}},
			ref:         "pay_1",
			wantErr:     ErrAmountMismatch,
			wantFetches: 1,
		},
		{
			name:        "fetch network error",
			gw:          &mockGateway{fetchErr: []error{errors.New("dial tcp: timeout")}},
			ref:         "pay_1",
			wantErr:     ErrPaymentVerificationFailed,
			wantFetches: 1,
		},
		{
			name: "capture error",
			gw: &mockGateway{
				fetches: []*RemotePayment{remote("authorized", "232")},
				capErr:  errors.New("502 bad gateway"),
			},
			ref:          "pay_1",
			wantErr:      ErrPaymentVerificationFailed,
			wantCaptures: 1,
			wantFetches:  1,
		},
		{
			name: "re-fetch error",
			gw: &mockGateway{
				fetches:  []*RemotePayment{remote("authorized", "232")},
				fetchErr: []error{nil, errors.New("connection reset")},
			},
			ref:          "pay_1",
			wantErr:      ErrPaymentVerificationFailed,
			wantCaptures: 1,
			wantFetches:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.gw, "")

			res, err := v.VerifyAndCapture(context.Background(), tt.ref, total)
			assert.Equal(t, tt.wantFetches, tt.gw.fetchCalls)
			assert.Len(t, tt.gw.captured, tt.wantCaptures)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, StatusCaptured, res.Status)
			assert.Equal(t, MethodOnline, res.Method)
			assert.Equal(t, "pay_1", res.TransactionID)
			for _, amt := range tt.gw.captured {
				assert.True(t, total.Equal(amt))
			}
		})
	}
}

func TestSettle_CashOnDeliveryBypassesGateway(t *testing.T) {
	gw := &mockGateway{}
	v := NewVerifier(gw, "INR")

	res, err := v.Settle(context.Background(), MethodCashOnDelivery, "", decimal.NewFromInt(232))
	require.NoError(t, err)
	assert.Equal(t, StatusCashOnDelivery, res.Status)
	assert.Zero(t, gw.fetchCalls)
	assert.Empty(t, gw.captured)
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{in: "COD", want: MethodCashOnDelivery},
		{in: "Cash On Delivery", want: MethodCashOnDelivery},
		{in: "online", want: MethodOnline},
		{in: "Razorpay", want: MethodOnline},
		{in: "barter", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
