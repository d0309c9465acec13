package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/order"
)

var (
	errStatusRequired   = apperr.New(apperr.KindValidation, "status_required", "status is required")
	errDecisionRequired = apperr.New(apperr.KindValidation, "decision_required", "decision is required")
)

// PlaceOrder handles POST /api/orders. It converts the caller's cart into an
// order and answers 201 with the order document.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req := order.PlaceOrderRequest{UserID: actor(r).ID}
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "addressId":
			req.AddressID, err = optStr(d)
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "transactionRef", "transactionId":
			req.TransactionRef, err = optStr(d)
		case "couponCode":
			req.CouponCode, err = optStr(d)
		case "cartVersion":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Int64()
			if err != nil {
				return err
			}
			req.CartVersion = &v
		case "notes":
			req.Notes, err = optStr(d)
		case "voiceNoteUrl":
			req.VoiceNoteURL, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

// GetOrder handles GET /api/orders/{id} for any role that can see the order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

// CancelOrder handles POST /api/orders/{id}/cancel with an optional
// {"reason"}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	if err := decodeBody(r, true, func(d *jx.Decoder, key string) (err error) {
		if key == "reason" {
			reason, err = optStr(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Cancel(r.Context(), actor(r).ID, chi.URLParam(r, "id"), reason)
	h.respondOrder(w, r, o, err)
}

// Reorder handles POST /api/orders/{id}/reorder.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	req := order.ReorderRequest{UserID: actor(r).ID, OrderID: chi.URLParam(r, "id")}
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "transactionRef", "transactionId":
			req.TransactionRef, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Reorder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

// RemoveOrder handles DELETE /api/orders/{id}. Only delivered orders can be
// removed from history.
func (h *Handler) RemoveOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orders.RemoveDelivered(r.Context(), actor(r).ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	h.lg.Debug("Order removed", zap.String("order_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status with {"status"}.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := h.stringField(w, r, "status", errStatusRequired)
	if !ok {
		return
	}
	o, err := h.orders.UpdateStatusByVendor(r.Context(), actor(r).ID, chi.URLParam(r, "id"), status)
	h.respondOrder(w, r, o, err)
}

// PharmacyResponse handles POST /api/orders/{id}/pharmacy-response with
// {"decision": "Accepted"|"Rejected"}.
func (h *Handler) PharmacyResponse(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.stringField(w, r, "decision", errDecisionRequired)
	if !ok {
		return
	}
	o, err := h.orders.RespondAsPharmacy(r.Context(), actor(r).ID, chi.URLParam(r, "id"), decision)
	h.respondOrder(w, r, o, err)
}

// RiderResponse handles POST /api/orders/{id}/rider-response with
// {"decision": "Accepted"|"Rejected"}.
func (h *Handler) RiderResponse(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.stringField(w, r, "decision", errDecisionRequired)
	if !ok {
		return
	}
	o, err := h.orders.RespondAsRider(r.Context(), actor(r).ID, chi.URLParam(r, "id"), decision)
	h.respondOrder(w, r, o, err)
}

// PickUpOrder handles POST /api/orders/{id}/pickup.
func (h *Handler) PickUpOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkPickedUp(r.Context(), actor(r).ID, chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

// DeliverOrder handles POST /api/orders/{id}/deliver with an optional
// {"proofUrl"}.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	var proof string
	if err := decodeBody(r, true, func(d *jx.Decoder, key string) (err error) {
		if key == "proofUrl" {
			proof, err = optStr(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.MarkDelivered(r.Context(), actor(r).ID, chi.URLParam(r, "id"), proof)
	h.respondOrder(w, r, o, err)
}

// RefundOrder handles POST /api/internal/orders/{id}/refund, called by the
// payment reconciliation job.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var note string
	if err := decodeBody(r, true, func(d *jx.Decoder, key string) (err error) {
		if key == "note" {
			note, err = optStr(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Refund(r.Context(), chi.URLParam(r, "id"), note)
	h.respondOrder(w, r, o, err)
}

// stringField decodes a body holding one required string field.
func (h *Handler) stringField(w http.ResponseWriter, r *http.Request, name string, missing error) (string, bool) {
	var v string
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		if key == name {
			v, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return "", false
	}
	if v == "" {
		writeError(w, r, missing)
		return "", false
	}
	return v, true
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
