package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/cart"
)

var errMedicineIDRequired = apperr.New(apperr.KindValidation, "medicine_id_required", "medicineId is required")

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.Get(r.Context(), actor(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, v)
}

// AddCartItem handles POST /api/cart/items with {"medicineId","quantity"}.
// Quantity defaults to 1.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		medicineID string
		qty        = 1
	)
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "medicineId":
			medicineID, err = d.Str()
		case "quantity":
			qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if medicineID == "" {
		writeError(w, r, errMedicineIDRequired)
		return
	}

	h.respondCart(w, r)(h.carts.AddItem(r.Context(), actor(r).ID, medicineID, qty))
}

// SetCartItemQuantity handles PUT /api/cart/items/{medicineId} with {"quantity"}.
func (h *Handler) SetCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	qty := 0
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		if key == "quantity" {
			qty, err = d.Int()
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if qty < 1 {
		writeError(w, r, cart.ErrInvalidQuantity)
		return
	}

	h.respondCart(w, r)(h.carts.SetQuantity(r.Context(), actor(r).ID, chi.URLParam(r, "medicineId"), qty))
}

// DecrementCartItem handles POST /api/cart/items/{medicineId}/decrement.
func (h *Handler) DecrementCartItem(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r)(h.carts.Decrement(r.Context(), actor(r).ID, chi.URLParam(r, "medicineId")))
}

// RemoveCartItem handles DELETE /api/cart/items/{medicineId}.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r)(h.carts.RemoveItem(r.Context(), actor(r).ID, chi.URLParam(r, "medicineId")))
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request) func(*cart.View, error) {
	return func(v *cart.View, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeCart(w, v)
	}
}
