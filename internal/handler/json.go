package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/order"
)

const maxBodyBytes = 1 << 20

var errBadJSON = apperr.New(apperr.KindValidation, "invalid_body", "invalid request body")

// decodeBody reads a JSON object and calls field for every key. An empty
// body is accepted when optional is true.
func decodeBody(r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return errBadJSON.With(err)
	}
	if len(data) == 0 {
		if optional {
			return nil
		}
		return errBadJSON.With(errors.New("body is required"))
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return errBadJSON.With(err)
	}
	return nil
}

// optStr decodes a string or null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	o.Encode(e)
	writeJSON(w, status, e.Bytes())
}

func writeOrders(w http.ResponseWriter, status int, orders []*order.Order) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for _, o := range orders {
		o.Encode(e)
	}
	e.ArrEnd()
	writeJSON(w, status, e.Bytes())
}

func writeCart(w http.ResponseWriter, v *cart.View) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	c := v.Cart
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(c.UserID)
	e.FieldStart("version")
	e.Int64(c.Version)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("medicineId")
		e.Str(it.MedicineID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("mrp")
		order.EncodeMoney(e, it.MRP)
		e.FieldStart("pharmacyId")
		e.Str(it.PharmacyID)
		e.FieldStart("description")
		e.Str(it.Description)
		e.FieldStart("images")
		e.ArrStart()
		for _, img := range it.Images {
			e.Str(img)
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("pricing")
	if v.Breakdown != nil {
		order.EncodeBreakdown(e, *v.Breakdown)
	} else {
		e.Null()
	}
	e.ObjEnd()

	writeJSON(w, http.StatusOK, e.Bytes())
}
