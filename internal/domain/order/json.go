package order

import (
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

// TimeLayout is the ISO-8601 layout used for every persisted timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t.UTC(), nil
}

// EncodeMoney writes d as a JSON number with exactly 2 decimal places.
func EncodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

// DecodeMoney reads a JSON number or numeric string into a decimal.
func DecodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func encodeOptTime(e *jx.Encoder, t time.Time) {
	if t.IsZero() {
		e.Null()
		return
	}
	e.Str(formatTime(t))
}

func decodeOptTime(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Null {
		return time.Time{}, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(s)
}

// Encode writes the order, including the derived isPickedUp and etaMessage
// fields which Decode ignores.
func (o *Order) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("orderItems")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("medicineId")
		e.Str(it.MedicineID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		EncodeMoney(e, it.UnitPrice)
		e.FieldStart("pharmacyId")
		e.Str(it.PharmacyID)
		e.FieldStart("total")
		EncodeMoney(e, it.Total())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("pricing")
	EncodeBreakdown(e, o.Pricing)

	e.FieldStart("paymentMethod")
	e.Str(string(o.Payment.Method))
	e.FieldStart("paymentStatus")
	e.Str(string(o.Payment.Status))
	e.FieldStart("transactionId")
	if o.Payment.TransactionID == "" {
		e.Null()
	} else {
		e.Str(o.Payment.TransactionID)
	}

	e.FieldStart("statusTimeline")
	EncodeTimeline(e, o.Timeline)

	e.FieldStart("pharmacyResponses")
	e.ObjStart()
	ids := make([]string, 0, len(o.PharmacyResponses))
	for id := range o.PharmacyResponses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := o.PharmacyResponses[id]
		e.FieldStart(id)
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(r.Status))
		e.FieldStart("respondedAt")
		encodeOptTime(e, r.RespondedAt)
		e.ObjEnd()
	}
	e.ObjEnd()

	e.FieldStart("assignedPharmacy")
	e.Str(o.AssignedPharmacyID)
	e.FieldStart("assignedRider")
	e.Str(o.AssignedRiderID)
	e.FieldStart("assignedRiderName")
	e.Str(o.RiderName)
	e.FieldStart("assignedRiderStatus")
	e.Str(string(o.RiderStatus))

	e.FieldStart("addressId")
	e.Str(o.AddressID)
	e.FieldStart("deliveryAddress")
	e.ObjStart()
	e.FieldStart("house")
	e.Str(o.DeliveryAddress.House)
	e.FieldStart("street")
	e.Str(o.DeliveryAddress.Street)
	e.FieldStart("city")
	e.Str(o.DeliveryAddress.City)
	e.FieldStart("state")
	e.Str(o.DeliveryAddress.State)
	e.FieldStart("pincode")
	e.Str(o.DeliveryAddress.Pincode)
	e.FieldStart("country")
	e.Str(o.DeliveryAddress.Country)
	e.ObjEnd()

	e.FieldStart("notes")
	e.Str(o.Notes)
	e.FieldStart("voiceNoteUrl")
	e.Str(o.VoiceNoteURL)
	e.FieldStart("isReordered")
	e.Bool(o.IsReordered)
	e.FieldStart("sourceOrderId")
	e.Str(o.SourceOrderID)
	e.FieldStart("planType")
	e.Str(string(o.PlanType))
	e.FieldStart("deliveryDate")
	encodeOptTime(e, o.DeliveryDate)

	e.FieldStart("deliveryProof")
	e.ArrStart()
	for _, p := range o.DeliveryProof {
		e.ObjStart()
		e.FieldStart("riderId")
		e.Str(p.RiderID)
		e.FieldStart("imageUrl")
		e.Str(p.ImageURL)
		e.FieldStart("uploadedAt")
		e.Str(formatTime(p.UploadedAt))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("version")
	e.Int64(o.Version)
	e.FieldStart("createdAt")
	e.Str(formatTime(o.CreatedAt))
	e.FieldStart("updatedAt")
	e.Str(formatTime(o.UpdatedAt))
	e.FieldStart("isPickedUp")
	e.Bool(o.IsPickedUp())
	e.FieldStart("etaMessage")
	e.Str(o.ETAMessage())
	e.ObjEnd()
}

// MarshalJSON encodes the order with jx.
func (o *Order) MarshalJSON() ([]byte, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	o.Encode(e)
	return append([]byte(nil), e.Bytes()...), nil
}

// UnmarshalJSON decodes an order produced by MarshalJSON.
func (o *Order) UnmarshalJSON(data []byte) error {
	return o.Decode(jx.DecodeBytes(data))
}

// Decode reads an order. Unknown and derived fields are skipped.
func (o *Order) Decode(d *jx.Decoder) error {
	*o = Order{}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "userId":
			o.UserID, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			o.Status = Status(s)
		case "orderItems":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return err
				}
				o.Items = append(o.Items, it)
				return nil
			})
		case "pricing":
			o.Pricing, err = DecodeBreakdown(d)
		case "paymentMethod":
			var s string
			s, err = d.Str()
			o.Payment.Method = payment.Method(s)
		case "paymentStatus":
			var s string
			s, err = d.Str()
			o.Payment.Status = payment.Status(s)
		case "transactionId":
			if d.Next() == jx.Null {
				err = d.Null()
			} else {
				o.Payment.TransactionID, err = d.Str()
			}
		case "statusTimeline":
			o.Timeline, err = DecodeTimeline(d)
		case "pharmacyResponses":
			o.PharmacyResponses = make(map[string]PharmacyResponse)
			err = d.Obj(func(d *jx.Decoder, id string) error {
				var r PharmacyResponse
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "status":
						s, err := d.Str()
						r.Status = ResponseStatus(s)
						return err
					case "respondedAt":
						t, err := decodeOptTime(d)
						r.RespondedAt = t
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				o.PharmacyResponses[id] = r
				return nil
			})
		case "assignedPharmacy":
			o.AssignedPharmacyID, err = d.Str()
		case "assignedRider":
			o.AssignedRiderID, err = d.Str()
		case "assignedRiderName":
			o.RiderName, err = d.Str()
		case "assignedRiderStatus":
			var s string
			s, err = d.Str()
			o.RiderStatus = RiderStatus(s)
		case "addressId":
			o.AddressID, err = d.Str()
		case "deliveryAddress":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				a := &o.DeliveryAddress
				switch key {
				case "house":
					a.House, err = d.Str()
				case "street":
					a.Street, err = d.Str()
				case "city":
					a.City, err = d.Str()
				case "state":
					a.State, err = d.Str()
				case "pincode":
					a.Pincode, err = d.Str()
				case "country":
					a.Country, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "notes":
			o.Notes, err = d.Str()
		case "voiceNoteUrl":
			o.VoiceNoteURL, err = d.Str()
		case "isReordered":
			o.IsReordered, err = d.Bool()
		case "sourceOrderId":
			o.SourceOrderID, err = d.Str()
		case "planType":
			var s string
			s, err = d.Str()
			o.PlanType = PlanType(s)
		case "deliveryDate":
			o.DeliveryDate, err = decodeOptTime(d)
		case "deliveryProof":
			err = d.Arr(func(d *jx.Decoder) error {
				var p DeliveryProof
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "riderId":
						p.RiderID, err = d.Str()
					case "imageUrl":
						p.ImageURL, err = d.Str()
					case "uploadedAt":
						var s string
						if s, err = d.Str(); err == nil {
							p.UploadedAt, err = parseTime(s)
						}
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				o.DeliveryProof = append(o.DeliveryProof, p)
				return nil
			})
		case "version":
			o.Version, err = d.Int64()
		case "createdAt":
			var s string
			if s, err = d.Str(); err == nil {
				o.CreatedAt, err = parseTime(s)
			}
		case "updatedAt":
			var s string
			if s, err = d.Str(); err == nil {
				o.UpdatedAt, err = parseTime(s)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

func decodeItem(d *jx.Decoder) (Item, error) {
	var it Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "medicineId":
			it.MedicineID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "unitPrice":
			it.UnitPrice, err = DecodeMoney(d)
		case "pharmacyId":
			it.PharmacyID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

// EncodeTimeline writes entries as [{status, message, timestamp}].
func EncodeTimeline(e *jx.Encoder, entries []TimelineEntry) {
	e.ArrStart()
	for _, t := range entries {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(t.Status)
		e.FieldStart("message")
		e.Str(t.Message)
		e.FieldStart("timestamp")
		e.Str(formatTime(t.Timestamp))
		e.ObjEnd()
	}
	e.ArrEnd()
}

// DecodeTimeline reads the output of EncodeTimeline.
func DecodeTimeline(d *jx.Decoder) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	err := d.Arr(func(d *jx.Decoder) error {
		var t TimelineEntry
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "status":
				t.Status, err = d.Str()
			case "message":
				t.Message, err = d.Str()
			case "timestamp":
				var s string
				if s, err = d.Str(); err == nil {
					t.Timestamp, err = parseTime(s)
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		entries = append(entries, t)
		return nil
	})
	return entries, err
}

// EncodeBreakdown writes a pricing breakdown with 2-decimal amounts.
func EncodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.ObjStart()
	e.FieldStart("subTotal")
	EncodeMoney(e, b.SubTotal)
	e.FieldStart("platformFee")
	EncodeMoney(e, b.PlatformFee)
	e.FieldStart("deliveryCharge")
	EncodeMoney(e, b.DeliveryCharge)
	e.FieldStart("discountAmount")
	EncodeMoney(e, b.DiscountAmount)
	e.FieldStart("totalPayable")
	EncodeMoney(e, b.TotalPayable)
	e.FieldStart("couponCode")
	e.Str(b.CouponCode)
	e.FieldStart("discountPercentage")
	EncodeMoney(e, b.DiscountPercentage)
	e.FieldStart("adjustments")
	e.ArrStart()
	for _, a := range b.Adjustments {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(a.Code)
		e.FieldStart("description")
		e.Str(a.Description)
		e.FieldStart("amount")
		EncodeMoney(e, a.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// DecodeBreakdown reads the output of EncodeBreakdown.
func DecodeBreakdown(d *jx.Decoder) (pricing.Breakdown, error) {
	var b pricing.Breakdown
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "subTotal":
			b.SubTotal, err = DecodeMoney(d)
		case "platformFee":
			b.PlatformFee, err = DecodeMoney(d)
		case "deliveryCharge":
			b.DeliveryCharge, err = DecodeMoney(d)
		case "discountAmount":
			b.DiscountAmount, err = DecodeMoney(d)
		case "totalPayable":
			b.TotalPayable, err = DecodeMoney(d)
		case "couponCode":
			b.CouponCode, err = d.Str()
		case "discountPercentage":
			b.DiscountPercentage, err = DecodeMoney(d)
		case "adjustments":
			err = d.Arr(func(d *jx.Decoder) error {
				var a pricing.Adjustment
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "code":
						a.Code, err = d.Str()
					case "description":
						a.Description, err = d.Str()
					case "amount":
						a.Amount, err = DecodeMoney(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				b.Adjustments = append(b.Adjustments, a)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}
