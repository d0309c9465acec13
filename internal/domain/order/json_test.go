package order

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

func pricedOrder(t *testing.T) *Order {
	t.Helper()
	engine := pricing.NewEngine(pricing.Config{
		PlatformFee:           decimal.NewFromInt(10),
		DefaultDeliveryCharge: decimal.NewFromInt(22),
	})
	b, err := engine.Price([]pricing.Line{{ItemID: "m1", UnitPrice: decimal.NewFromInt(100), Quantity: 2}}, pricing.Delivery{}, nil, t0)
	require.NoError(t, err)

	o := New(NewParams{
		ID:     "o1",
		UserID: "u1",
		Items: []Item{
			{MedicineID: "m1", Name: "Paracetamol", Quantity: 2, UnitPrice: decimal.NewFromInt(100), PharmacyID: "ph1"},
		},
		Pricing:         b,
		Payment:         Payment{Method: payment.MethodOnline, Status: payment.StatusCaptured, TransactionID: "pay_1"},
		AddressID:       "a1",
		DeliveryAddress: Address{House: "12", Street: "MG Road", City: "Pune", Pincode: "411001", Country: "IN"},
		Notes:           "ring twice",
		At:              t0.Add(123456 * time.Microsecond),
	})
	require.NoError(t, o.AssignRider("r1", "Ravi", t0.Add(time.Second)))
	o.PullEvents()
	return o
}

func TestOrderJSON_RoundTripIsByteStable(t *testing.T) {
	o := pricedOrder(t)
	require.NoError(t, o.RespondAsPharmacy("ph1", "City Meds", Accept, t0.Add(2*time.Second)))

	first, err := o.MarshalJSON()
	require.NoError(t, err)

	var decoded Order
	require.NoError(t, decoded.UnmarshalJSON(first))
	second, err := decoded.MarshalJSON()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, "o1", decoded.ID)
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, "r1", decoded.AssignedRiderID)
	assert.Equal(t, o.Items[0].PharmacyID, decoded.Items[0].PharmacyID)
	assert.Equal(t, o.Timeline, decoded.Timeline)
	assert.True(t, o.Pricing.TotalPayable.Equal(decoded.Pricing.TotalPayable))
}

func TestOrderJSON_Format(t *testing.T) {
	o := pricedOrder(t)

	data, err := o.MarshalJSON()
	require.NoError(t, err)
	s := string(data)

	assert.Contains(t, s, `"subTotal":200.00`)
	assert.Contains(t, s, `"platformFee":10.00`)
	assert.Contains(t, s, `"deliveryCharge":22.00`)
	assert.Contains(t, s, `"totalPayable":232.00`)
	assert.Contains(t, s, `{"status":"Pending","message":"Order placed","timestamp":"2025-06-15T10:00:00.123Z"}`)
	assert.Contains(t, s, `{"status":"Rider Assigned","message":"Ravi","timestamp":"2025-06-15T10:00:01.000Z"}`)
	assert.Contains(t, s, `"pharmacyResponses":{"ph1":{"status":"Pending","respondedAt":null}}`)
	assert.Contains(t, s, `"isPickedUp":false`)
	assert.True(t, jx.Valid(data))
}

func TestTimelineJSON_RoundTrip(t *testing.T) {
	entries := []TimelineEntry{
		{Status: "Pending", Message: "Order placed", Timestamp: t0},
		{Status: "PickedUp", Message: `Order picked up by "Ravi"`, Timestamp: t0.Add(90 * time.Minute)},
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	EncodeTimeline(e, entries)

	got, err := DecodeTimeline(jx.DecodeBytes(e.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestDecodeMoney_AcceptsStrings(t *testing.T) {
	got, err := DecodeMoney(jx.DecodeStr(`"12.50"`))
	require.NoError(t, err)
	assert.Equal(t, "12.50", got.StringFixed(2))

	got, err = DecodeMoney(jx.DecodeStr(`7`))
	require.NoError(t, err)
	assert.Equal(t, "7.00", got.StringFixed(2))
}
