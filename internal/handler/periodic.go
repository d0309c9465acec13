package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/pharmacart/internal/domain/periodic"
)

// PlanPeriodicOrders handles POST /api/periodic-orders. It answers 201 with
// the created orders, one per delivery date.
func (h *Handler) PlanPeriodicOrders(w http.ResponseWriter, r *http.Request) {
	req := periodic.PlanRequest{UserID: actor(r).ID}
	if err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "planType":
			req.PlanType, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it periodic.Item
				if err := d.Obj(func(d *jx.Decoder, key string) (err error) {
					switch key {
					case "medicineId":
						it.MedicineID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "deliveryDates":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				req.DeliveryDates = append(req.DeliveryDates, s)
				return nil
			})
		case "couponCode":
			req.CouponCode, err = optStr(d)
		case "addressId":
			req.AddressID, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.planner.Plan(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrders(w, http.StatusCreated, orders)
}
