package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/pharmacart/internal/domain/auth"
)

// Probes are mounted next to the API without authentication.
type Probes struct {
	Live  http.HandlerFunc
	Ready http.HandlerFunc
}

// NewRouter builds the route tree. Customer, vendor and rider routes require
// a bearer token of the matching role; /api/internal requires an API key.
func NewRouter(h *Handler, bearer *BearerAuth, keys *KeyAuth, probes Probes) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	if probes.Live != nil {
		r.Get("/livez", probes.Live)
	}
	if probes.Ready != nil {
		r.Get("/readyz", probes.Ready)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(bearer.Middleware)

			r.Get("/orders/{id}", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(auth.RoleCustomer))

				r.Get("/cart", h.GetCart)
				r.Post("/cart/items", h.AddCartItem)
				r.Put("/cart/items/{medicineId}", h.SetCartItemQuantity)
				r.Post("/cart/items/{medicineId}/decrement", h.DecrementCartItem)
				r.Delete("/cart/items/{medicineId}", h.RemoveCartItem)

				r.Post("/orders", h.PlaceOrder)
				r.Post("/orders/{id}/cancel", h.CancelOrder)
				r.Post("/orders/{id}/reorder", h.Reorder)
				r.Delete("/orders/{id}", h.RemoveOrder)
				r.Post("/periodic-orders", h.PlanPeriodicOrders)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(auth.RoleVendor))

				r.Put("/orders/{id}/status", h.UpdateOrderStatus)
				r.Post("/orders/{id}/pharmacy-response", h.PharmacyResponse)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(auth.RoleRider))

				r.Post("/orders/{id}/rider-response", h.RiderResponse)
				r.Post("/orders/{id}/pickup", h.PickUpOrder)
				r.Post("/orders/{id}/deliver", h.DeliverOrder)
			})
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(keys.Require(auth.ScopeRefund))
			r.Post("/orders/{id}/refund", h.RefundOrder)
		})
	})

	return r
}
