package payment

import (
	"context"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Verifier runs the fetch, capture, re-fetch protocol against a Gateway.
//
// The capture call settles asynchronously on the gateway side, so the final
// re-fetch is authoritative and always performed. Nothing is retried: a
// repeated capture is unsafe without an idempotency key.
type Verifier struct {
	gateway  Gateway
	currency string
}

// NewVerifier creates a Verifier capturing in the given currency.
func NewVerifier(gw Gateway, currency string) *Verifier {
	if currency == "" {
		currency = "INR"
	}
	return &Verifier{gateway: gw, currency: currency}
}

// Settle resolves the payment for a checkout. Cash on delivery never touches
// the gateway.
func (v *Verifier) Settle(ctx context.Context, method Method, ref string, amount decimal.Decimal) (*Result, error) {
	if method == MethodCashOnDelivery {
		return CashOnDelivery(), nil
	}
	return v.VerifyAndCapture(ctx, ref, amount)
}

// VerifyAndCapture confirms that ref is a captured payment for expected.
func (v *Verifier) VerifyAndCapture(ctx context.Context, ref string, expected decimal.Decimal) (*Result, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrTransactionIDRequired
	}
	lg := zctx.From(ctx).With(zap.String("transaction_id", ref))

	p, err := v.gateway.Fetch(ctx, ref)
	if err != nil {
		return nil, ErrPaymentVerificationFailed.With(err)
	}
	if !p.Amount.Round(2).Equal(expected.Round(2)) {
		lg.Warn("Payment amount mismatch",
			zap.String("expected", expected.StringFixed(2)),
			zap.String("remote", p.Amount.StringFixed(2)),
		)
		return nil, ErrAmountMismatch
	}

	if p.Status == RemoteAuthorized {
		if err := v.gateway.Capture(ctx, ref, expected, v.currency); err != nil {
			return nil, ErrPaymentVerificationFailed.With(err)
		}
		lg.Info("Payment capture requested", zap.String("amount", expected.StringFixed(2)))
	}

	p, err = v.gateway.Fetch(ctx, ref)
	if err != nil {
		return nil, ErrPaymentVerificationFailed.With(err)
	}
	if p.Status != RemoteCaptured {
		lg.Warn("Payment not captured", zap.String("remote_status", p.Status))
		return nil, ErrPaymentNotCaptured
	}

	return &Result{
		Method:        MethodOnline,
		Status:        StatusCaptured,
		TransactionID: ref,
		Details:       p,
	}, nil
}
