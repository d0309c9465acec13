// Package payment verifies and captures third-party payments before an order
// is persisted.
package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

var (
	// ErrTransactionIDRequired is returned when a non cash-on-delivery
	// checkout carries no transaction reference.
	ErrTransactionIDRequired = apperr.New(apperr.KindValidation, "transaction_id_required", "transaction id is required for online payment")
	// ErrInvalidMethod is returned for an unknown payment method.
	ErrInvalidMethod = apperr.New(apperr.KindValidation, "invalid_payment_method", "unknown payment method")
	// ErrPaymentVerificationFailed is returned when the gateway could not be
	// queried or the capture call failed. It is never retried internally.
	ErrPaymentVerificationFailed = apperr.New(apperr.KindPayment, "payment_verification_failed", "payment verification failed")
	// ErrPaymentNotCaptured is returned when the payment did not settle as captured.
	ErrPaymentNotCaptured = apperr.New(apperr.KindPayment, "payment_not_captured", "payment not captured")
	// ErrAmountMismatch is returned when the remote amount differs from the
	// order total.
	ErrAmountMismatch = apperr.New(apperr.KindPayment, "payment_amount_mismatch", "payment amount does not match order total")
	// ErrPaymentAlreadyUsed is returned when a transaction reference is
	// already attached to another order.
	ErrPaymentAlreadyUsed = apperr.New(apperr.KindConflict, "payment_already_used", "payment already used for another order")
)

// Method is how the customer pays.
type Method string

const (
	MethodOnline         Method = "Online"
	MethodCashOnDelivery Method = "COD"
)

// ParseMethod accepts the canonical names and the spellings used by older
// clients ("Cash On Delivery", "cod", "razorpay").
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.Join(strings.Fields(s), "")) {
	case "online", "razorpay", "upi", "card":
		return MethodOnline, nil
	case "cod", "cashondelivery":
		return MethodCashOnDelivery, nil
	default:
		return "", ErrInvalidMethod
	}
}

// Status is the order-side payment state.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusAuthorized     Status = "Authorized"
	StatusCaptured       Status = "Captured"
	StatusFailed         Status = "Failed"
	StatusCashOnDelivery Status = "Cash On Delivery"
)

// Remote statuses reported by the gateway.
const (
	RemoteAuthorized = "authorized"
	RemoteCaptured   = "captured"
)

// RemotePayment is the gateway's view of a payment.
type RemotePayment struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
	Method   string
}

// Gateway is the external payment processor.
type Gateway interface {
	Fetch(ctx context.Context, ref string) (*RemotePayment, error)
	Capture(ctx context.Context, ref string, amount decimal.Decimal, currency string) error
}

// Result is the outcome of a verified payment.
type Result struct {
	Method        Method
	Status        Status
	TransactionID string
	Details       *RemotePayment
}

// CashOnDelivery returns the Result used when the gateway is bypassed.
func CashOnDelivery() *Result {
	return &Result{Method: MethodCashOnDelivery, Status: StatusCashOnDelivery}
}
