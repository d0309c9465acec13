// Package handler exposes the order pipeline over HTTP. Requests and
// responses are encoded with jx; domain errors are mapped to status codes by
// their apperr kind.
package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/auth"
	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/periodic"
)

// OrderService is the order lifecycle used by the handlers.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Reorder(ctx context.Context, req order.ReorderRequest) (*order.Order, error)
	Get(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	Cancel(ctx context.Context, userID, orderID, reason string) (*order.Order, error)
	UpdateStatusByVendor(ctx context.Context, pharmacyID, orderID, status string) (*order.Order, error)
	RespondAsPharmacy(ctx context.Context, pharmacyID, orderID, decision string) (*order.Order, error)
	RespondAsRider(ctx context.Context, riderID, orderID, decision string) (*order.Order, error)
	MarkPickedUp(ctx context.Context, riderID, orderID string) (*order.Order, error)
	MarkDelivered(ctx context.Context, riderID, orderID, proofURL string) (*order.Order, error)
	Refund(ctx context.Context, orderID, note string) (*order.Order, error)
	RemoveDelivered(ctx context.Context, userID, orderID string) error
}

// CartService is the cart API used by the handlers.
type CartService interface {
	Get(ctx context.Context, userID string) (*cart.View, error)
	AddItem(ctx context.Context, userID, medicineID string, qty int) (*cart.View, error)
	SetQuantity(ctx context.Context, userID, medicineID string, qty int) (*cart.View, error)
	Decrement(ctx context.Context, userID, medicineID string) (*cart.View, error)
	RemoveItem(ctx context.Context, userID, medicineID string) (*cart.View, error)
}

// Planner creates periodic orders.
type Planner interface {
	Plan(ctx context.Context, req periodic.PlanRequest) ([]*order.Order, error)
}

var (
	_ OrderService = (*order.Service)(nil)
	_ CartService  = (*cart.Service)(nil)
	_ Planner      = (*periodic.Planner)(nil)
)

// Handler serves the /api routes.
type Handler struct {
	orders  OrderService
	carts   CartService
	planner Planner
	lg      *zap.Logger
}

// New constructs a Handler.
func New(orders OrderService, carts CartService, planner Planner, lg *zap.Logger) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{orders: orders, carts: carts, planner: planner, lg: lg}
}
