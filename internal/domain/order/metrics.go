package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

type metrics struct {
	placed           metric.Int64Counter
	checkoutFailures metric.Int64Counter
	transitions      metric.Int64Counter
	policyExceptions metric.Int64Counter
	reconciliations  metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/pharmacart/internal/domain/order")

	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created, by source")); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if m.checkoutFailures, err = meter.Int64Counter("orders.checkout_failures",
		metric.WithDescription("Failed checkouts, by error code")); err != nil {
		return nil, errors.Wrap(err, "orders.checkout_failures")
	}
	if m.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Applied status transitions, by target status")); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}
	if m.policyExceptions, err = meter.Int64Counter("orders.policy_exceptions",
		metric.WithDescription("Vendor status jumps outside the transition table")); err != nil {
		return nil, errors.Wrap(err, "orders.policy_exceptions")
	}
	if m.reconciliations, err = meter.Int64Counter("payments.reconciliation_required",
		metric.WithDescription("Captured payments without a persisted order")); err != nil {
		return nil, errors.Wrap(err, "payments.reconciliation_required")
	}
	return &m, nil
}

func (m *metrics) orderPlaced(ctx context.Context, source string) {
	m.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *metrics) checkoutFailed(ctx context.Context, err error) {
	m.checkoutFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", apperr.CodeOf(err))))
}

func (m *metrics) transitioned(ctx context.Context, to Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}
