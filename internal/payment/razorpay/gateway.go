// Package razorpay adapts the Razorpay payments API to payment.Gateway.
package razorpay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	rzp "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/payment"
)

// paymentsAPI is the subset of the Razorpay payment resource in use.
type paymentsAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Capture(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// BreakerConfig tunes the circuit breaker guarding gateway calls.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// Config configures the Gateway.
type Config struct {
	KeyID     string
	KeySecret string
	// Timeout bounds a single API call.
	Timeout time.Duration
	Breaker BreakerConfig
}

// Gateway implements payment.Gateway on the Razorpay API.
type Gateway struct {
	api     paymentsAPI
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[map[string]interface{}]
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a Gateway authenticated with the key pair in cfg.
func New(cfg Config, lg *zap.Logger) *Gateway {
	client := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return newGateway(client.Payment, cfg, lg)
}

func newGateway(api paymentsAPI, cfg Config, lg *zap.Logger) *Gateway {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	bc := cfg.Breaker
	if bc.MaxRequests == 0 {
		bc.MaxRequests = 1
	}
	if bc.OpenTimeout <= 0 {
		bc.OpenTimeout = 30 * time.Second
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Payment gateway breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Gateway{api: api, timeout: cfg.Timeout, cb: cb}
}

// Fetch returns the gateway's record of payment ref.
func (g *Gateway) Fetch(ctx context.Context, ref string) (*payment.RemotePayment, error) {
	body, err := g.call(ctx, "fetch payment", func() (map[string]interface{}, error) {
		return g.api.Fetch(ref, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return parsePayment(body)
}

// Capture captures amount of an authorized payment.
func (g *Gateway) Capture(ctx context.Context, ref string, amount decimal.Decimal, currency string) error {
	paise, err := ToMinorUnits(amount)
	if err != nil {
		return err
	}
	_, err = g.call(ctx, "capture payment", func() (map[string]interface{}, error) {
		return g.api.Capture(ref, paise, map[string]interface{}{"currency": currency}, nil)
	})
	return err
}

// call runs fn through the breaker. The SDK has no context support, so a
// cancelled or timed out ctx abandons the call rather than interrupting it.
func (g *Gateway) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := g.cb.Execute(fn)
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperr.Dependency(op, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, apperr.Dependency(op, r.err)
		}
		return r.body, nil
	}
}

// ToMinorUnits converts a rupee amount to paise. Amounts with more than two
// decimal places are rejected.
func ToMinorUnits(amount decimal.Decimal) (int, error) {
	p := amount.Shift(2)
	if !p.Equal(p.Truncate(0)) {
		return 0, errors.Errorf("amount %s has sub-paise precision", amount)
	}
	if p.IsNegative() {
		return 0, errors.Errorf("amount %s is negative", amount)
	}
	return int(p.IntPart()), nil
}

// FromMinorUnits converts paise to rupees.
func FromMinorUnits(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

func parsePayment(body map[string]interface{}) (*payment.RemotePayment, error) {
	p := &payment.RemotePayment{
		ID:       str(body["id"]),
		Status:   str(body["status"]),
		Currency: str(body["currency"]),
		Method:   str(body["method"]),
	}
	if p.ID == "" {
		return nil, apperr.Dependency("fetch payment", errors.New("response has no payment id"))
	}
	switch v := body["amount"].(type) {
	case float64:
		p.Amount = FromMinorUnits(int64(v))
	case int:
		p.Amount = FromMinorUnits(int64(v))
	case int64:
		p.Amount = FromMinorUnits(v)
	default:
		return nil, apperr.Dependency("fetch payment", errors.Errorf("unexpected amount %v", v))
	}
	return p, nil
}

func str(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
