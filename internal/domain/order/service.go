package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/auth"
	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/coupon"
	"github.com/xenking/pharmacart/internal/domain/geo"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

// PaymentSettler resolves the payment for a checkout.
type PaymentSettler interface {
	Settle(ctx context.Context, method payment.Method, ref string, amount decimal.Decimal) (*payment.Result, error)
}

// Locker grants short-lived per-key advisory locks.
type Locker interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Reconciliation describes a captured payment that has no persisted order.
type Reconciliation struct {
	TransactionID string
	UserID        string
	OrderID       string
	Amount        decimal.Decimal
	Reason        string
	CreatedAt     time.Time
}

// ReconciliationLog records payments that need manual follow-up.
type ReconciliationLog interface {
	Record(ctx context.Context, r Reconciliation) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders         Repository
	Carts          cart.Repository
	Coupons        coupon.Resolver
	Medicines      catalog.MedicineRepository
	Pharmacies     catalog.PharmacyRepository
	Riders         catalog.RiderRepository
	Addresses      catalog.AddressRepository
	Engine         *pricing.Engine
	Payments       PaymentSettler
	Locker         Locker
	Reconciliation ReconciliationLog
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Config tunes the Service.
type Config struct {
	Policy          Policy
	CheckoutLockTTL time.Duration
}

// Service runs the order fulfilment pipeline.
type Service struct {
	orders     Repository
	carts      cart.Repository
	coupons    coupon.Resolver
	medicines  catalog.MedicineRepository
	pharmacies catalog.PharmacyRepository
	riders     catalog.RiderRepository
	addresses  catalog.AddressRepository
	engine     *pricing.Engine
	payments   PaymentSettler
	locker     Locker
	recon      ReconciliationLog

	policy  Policy
	lockTTL time.Duration

	lg      *zap.Logger
	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config, lg *zap.Logger) (*Service, error) {
	m, err := newMetrics(deps.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	if cfg.CheckoutLockTTL <= 0 {
		cfg.CheckoutLockTTL = time.Minute
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		orders:     deps.Orders,
		carts:      deps.Carts,
		coupons:    deps.Coupons,
		medicines:  deps.Medicines,
		pharmacies: deps.Pharmacies,
		riders:     deps.Riders,
		addresses:  deps.Addresses,
		engine:     deps.Engine,
		payments:   deps.Payments,
		locker:     deps.Locker,
		recon:      deps.Reconciliation,
		policy:     cfg.Policy,
		lockTTL:    cfg.CheckoutLockTTL,
		lg:         lg,
		metrics:    m,
		tracer:     tp.Tracer("github.com/xenking/pharmacart/internal/domain/order"),
		now:        time.Now,
	}, nil
}

// logger prefers the request-scoped logger.
func (s *Service) logger(ctx context.Context) *zap.Logger {
	if lg := zctx.From(ctx); lg != nil && lg.Core().Enabled(zap.ErrorLevel) {
		return lg
	}
	return s.lg
}

// PlaceOrderRequest holds checkout input.
type PlaceOrderRequest struct {
	UserID         string
	AddressID      string
	PaymentMethod  string
	TransactionRef string
	CouponCode     string
	// CartVersion, when set, must equal the stored cart version.
	CartVersion  *int64
	Notes        string
	VoiceNoteURL string
}

// PlaceOrder converts the user's cart into a priced, paid order.
//
// Steps run strictly in order: lock, cart read, coupon, rider match,
// pricing, payment, order write, cart clear. The cart is cleared only after
// the order is stored.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer func() { s.endSpan(ctx, span, rerr) }()

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if method != payment.MethodCashOnDelivery && strings.TrimSpace(req.TransactionRef) == "" {
		return nil, payment.ErrTransactionIDRequired
	}

	release, err := s.lockCheckout(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		return nil, apperr.Dependency("get cart", err)
	}
	if len(c.Items) == 0 {
		return nil, pricing.ErrEmptyCart
	}
	if req.CartVersion != nil && *req.CartVersion != c.Version {
		return nil, cart.ErrStaleCart
	}

	addr, err := s.deliveryAddress(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}

	cp, err := s.coupons.Resolve(ctx, req.CouponCode)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(c.Items))
	for i, it := range c.Items {
		items[i] = Item{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.MRP,
			PharmacyID: it.PharmacyID,
		}
	}

	pharmacyID, err := s.nearestPharmacy(ctx, c.PharmacyIDs(), addr)
	if err != nil {
		return nil, err
	}

	o, err := s.checkout(ctx, draft{
		userID:       req.UserID,
		items:        items,
		address:      addr,
		coupon:       cp,
		method:       method,
		ref:          req.TransactionRef,
		pharmacyID:   pharmacyID,
		notes:        req.Notes,
		voiceNoteURL: req.VoiceNoteURL,
	})
	if err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, req.UserID, c.Version); err != nil {
		s.logger(ctx).Warn("Clear cart after checkout",
			zap.String("order_id", o.ID),
			zap.Int64("cart_version", c.Version),
			zap.Error(err),
		)
	}

	s.metrics.orderPlaced(ctx, "checkout")
	return o, nil
}

// ReorderRequest holds reorder input.
type ReorderRequest struct {
	UserID         string
	OrderID        string
	PaymentMethod  string
	TransactionRef string
}

// Reorder creates a new order with the item set of an existing one, priced
// at current catalog prices. Rider matching and payment run again.
func (s *Service) Reorder(ctx context.Context, req ReorderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Reorder", trace.WithAttributes(attribute.String("order.source_id", req.OrderID)))
	defer func() { s.endSpan(ctx, span, rerr) }()

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if method != payment.MethodCashOnDelivery && strings.TrimSpace(req.TransactionRef) == "" {
		return nil, payment.ErrTransactionIDRequired
	}

	src, err := s.get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if src.UserID != req.UserID {
		return nil, ErrNotFound
	}

	release, err := s.lockCheckout(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	ids := make([]string, 0, len(src.Items))
	for _, it := range src.Items {
		ids = append(ids, it.MedicineID)
	}
	meds, err := catalog.MedicinesByID(ctx, s.medicines, ids)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(src.Items))
	for i, it := range src.Items {
		m := meds[it.MedicineID]
		items[i] = Item{
			MedicineID: m.ID,
			Name:       m.Name,
			Quantity:   it.Quantity,
			UnitPrice:  m.MRP,
			PharmacyID: m.PharmacyID,
		}
	}

	// The saved address supplies coordinates; fall back to the snapshot.
	addr := catalog.Address{
		ID:      src.AddressID,
		UserID:  src.UserID,
		House:   src.DeliveryAddress.House,
		Street:  src.DeliveryAddress.Street,
		City:    src.DeliveryAddress.City,
		State:   src.DeliveryAddress.State,
		Pincode: src.DeliveryAddress.Pincode,
		Country: src.DeliveryAddress.Country,
	}
	if src.AddressID != "" {
		saved, err := s.addresses.Get(ctx, src.UserID, src.AddressID)
		switch {
		case err == nil:
			addr = *saved
		case errors.Is(err, catalog.ErrAddressNotFound):
		default:
			return nil, apperr.Dependency("get address", err)
		}
	}

	pharmacyIDs := (&Order{Items: items}).PharmacyIDs()
	pharmacyID, err := s.nearestPharmacy(ctx, pharmacyIDs, addr)
	if err != nil {
		return nil, err
	}

	o, err := s.checkout(ctx, draft{
		userID:        req.UserID,
		items:         items,
		address:       addr,
		method:        method,
		ref:           req.TransactionRef,
		pharmacyID:    pharmacyID,
		notes:         src.Notes,
		voiceNoteURL:  src.VoiceNoteURL,
		sourceOrderID: src.ID,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.orderPlaced(ctx, "reorder")
	return o, nil
}

type draft struct {
	userID        string
	items         []Item
	address       catalog.Address
	coupon        *coupon.Coupon
	method        payment.Method
	ref           string
	pharmacyID    string
	notes         string
	voiceNoteURL  string
	sourceOrderID string
}

// checkout prices, pays for and stores a draft order.
func (s *Service) checkout(ctx context.Context, d draft) (*Order, error) {
	lg := s.logger(ctx)
	at := s.now()

	rider, delivery := s.matchRider(ctx, d.address, "")

	lines := make([]pricing.Line, len(d.items))
	for i, it := range d.items {
		lines[i] = pricing.Line{
			ItemID:    it.MedicineID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			VendorID:  it.PharmacyID,
		}
	}
	b, err := s.engine.Price(lines, delivery, d.coupon, at)
	if err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(d.ref)
	if d.method != payment.MethodCashOnDelivery {
		used, err := s.orders.TransactionUsed(ctx, ref)
		if err != nil {
			return nil, apperr.Dependency("check transaction", err)
		}
		if used {
			return nil, payment.ErrPaymentAlreadyUsed
		}
	}

	paid, err := s.payments.Settle(ctx, d.method, ref, b.TotalPayable)
	if err != nil {
		s.metrics.checkoutFailed(ctx, err)
		return nil, err
	}

	o := New(NewParams{
		ID:                 uuid.NewString(),
		UserID:             d.userID,
		Items:              d.items,
		Pricing:            b,
		Payment:            Payment{Method: paid.Method, Status: paid.Status, TransactionID: paid.TransactionID},
		AssignedPharmacyID: d.pharmacyID,
		AddressID:          d.address.ID,
		DeliveryAddress:    snapshotAddress(d.address),
		Notes:              strings.TrimSpace(d.notes),
		VoiceNoteURL:       strings.TrimSpace(d.voiceNoteURL),
		SourceOrderID:      d.sourceOrderID,
		At:                 at,
	})
	if rider != nil {
		if err := o.AssignRider(rider.ID, rider.Name, at); err != nil {
			return nil, err
		}
	}

	if err := s.orders.Create(ctx, o, o.PullEvents()); err != nil {
		if paid.Status == payment.StatusCaptured {
			s.reconcile(ctx, o, err)
		}
		s.metrics.checkoutFailed(ctx, err)
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Dependency("create order", err)
	}

	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(o.Payment.Status)),
		zap.String("total", o.Pricing.TotalPayable.StringFixed(2)),
		zap.String("rider_id", o.AssignedRiderID),
	)
	return o, nil
}

// reconcile records a captured payment whose order write failed. The
// customer was charged; this requires manual follow-up.
func (s *Service) reconcile(ctx context.Context, o *Order, cause error) {
	s.metrics.reconciliations.Add(ctx, 1)
	s.logger(ctx).Error("Payment captured but order not persisted",
		zap.String("transaction_id", o.Payment.TransactionID),
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("amount", o.Pricing.TotalPayable.StringFixed(2)),
		zap.Error(cause),
	)
	if s.recon == nil {
		return
	}
	rec := Reconciliation{
		TransactionID: o.Payment.TransactionID,
		UserID:        o.UserID,
		OrderID:       o.ID,
		Amount:        o.Pricing.TotalPayable,
		Reason:        cause.Error(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.recon.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger(ctx).Error("Write reconciliation record",
			zap.String("transaction_id", o.Payment.TransactionID),
			zap.Error(err),
		)
	}
}

func (s *Service) lockCheckout(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, ok, err := s.locker.Acquire(ctx, "checkout:"+userID, s.lockTTL)
	if err != nil {
		return nil, apperr.Dependency("acquire checkout lock", err)
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("Release checkout lock", zap.String("user_id", userID), zap.Error(err))
		}
	}, nil
}

func (s *Service) deliveryAddress(ctx context.Context, userID, addressID string) (catalog.Address, error) {
	var (
		a   *catalog.Address
		err error
	)
	if addressID == "" {
		a, err = s.addresses.Default(ctx, userID)
	} else {
		a, err = s.addresses.Get(ctx, userID, addressID)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrAddressNotFound) {
			return catalog.Address{}, catalog.ErrAddressNotFound
		}
		return catalog.Address{}, apperr.Dependency("get address", err)
	}
	return *a, nil
}

// matchRider picks the nearest online rider to the delivery address. Without
// a rider the default delivery charge applies and the order proceeds.
func (s *Service) matchRider(ctx context.Context, addr catalog.Address, exclude string) (*catalog.Rider, pricing.Delivery) {
	lg := s.logger(ctx)
	origin, ok := addr.Location()
	if !ok {
		lg.Info("Delivery address has no coordinates, skipping rider match")
		return nil, pricing.Delivery{}
	}

	riders, err := s.riders.ListAvailable(ctx)
	if err != nil {
		lg.Warn("List available riders", zap.Error(err))
		return nil, pricing.Delivery{}
	}
	if exclude != "" {
		kept := riders[:0:0]
		for _, r := range riders {
			if r.ID != exclude {
				kept = append(kept, r)
			}
		}
		riders = kept
	}

	m, err := geo.Nearest(riders, origin)
	if err != nil {
		lg.Info("No rider available", zap.Int("candidates", len(riders)))
		return nil, pricing.Delivery{}
	}
	r := m.Candidate
	return &r, pricing.KnownDelivery(m.DistanceKm, r.PerKmRate)
}

// nearestPharmacy picks the pharmacy closest to the address among ids,
// falling back to the first contributing pharmacy.
func (s *Service) nearestPharmacy(ctx context.Context, ids []string, addr catalog.Address) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	origin, ok := addr.Location()
	if !ok || len(ids) == 1 {
		return ids[0], nil
	}
	phs, err := s.pharmacies.GetByIDs(ctx, ids)
	if err != nil {
		return "", apperr.Dependency("get pharmacies", err)
	}
	m, err := geo.Nearest(phs, origin)
	if err != nil {
		return ids[0], nil
	}
	return m.Candidate.ID, nil
}

func snapshotAddress(a catalog.Address) Address {
	return Address{
		House:   a.House,
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		Pincode: a.Pincode,
		Country: a.Country,
	}
}

func (s *Service) get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, apperr.Dependency("get order", err)
	}
	return o, nil
}

// Get returns an order visible to the actor: its customer, a contributing
// pharmacy or the assigned rider.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(o, actor) {
		return nil, ErrNotFound
	}
	return o, nil
}

func visibleTo(o *Order, a auth.Actor) bool {
	switch a.Role {
	case auth.RoleCustomer:
		return o.UserID == a.ID
	case auth.RoleVendor:
		return o.HasPharmacy(a.ID)
	case auth.RoleRider:
		return o.AssignedRiderID != "" && o.AssignedRiderID == a.ID
	default:
		return false
	}
}

// update loads an order, applies fn and stores it with its events.
func (s *Service) update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := o.Status
	if err := fn(o); err != nil {
		return nil, err
	}

	if err := s.orders.Update(ctx, o, o.Version, o.PullEvents()); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return nil, ErrConcurrentUpdate
		}
		return nil, apperr.Dependency("update order", err)
	}
	if o.Status != before {
		s.metrics.transitioned(ctx, o.Status)
	}
	return o, nil
}

// Cancel cancels the customer's order.
func (s *Service) Cancel(ctx context.Context, userID, orderID, reason string) (*Order, error) {
	return s.update(ctx, orderID, func(o *Order) error {
		if o.UserID != userID {
			return ErrNotFound
		}
		return o.Cancel(reason, s.now())
	})
}

// UpdateStatusByVendor applies a pharmacy's status update under the
// configured policy.
func (s *Service) UpdateStatusByVendor(ctx context.Context, pharmacyID, orderID, status string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, orderID, func(o *Order) error {
		if !o.HasPharmacy(pharmacyID) {
			return ErrNotFound
		}
		from := o.Status
		exception, err := o.SetStatusByVendor(to, s.policy, s.now())
		if err != nil {
			return err
		}
		if exception {
			s.metrics.policyExceptions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", string(from)),
				attribute.String("to", string(to)),
			))
			s.logger(ctx).Warn("Vendor status jump outside transition table",
				zap.String("order_id", o.ID),
				zap.String("pharmacy_id", pharmacyID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.String("policy", string(s.policy)),
			)
		}
		return nil
	})
}

// RespondAsPharmacy records a contributing pharmacy's decision.
func (s *Service) RespondAsPharmacy(ctx context.Context, pharmacyID, orderID, decision string) (*Order, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	name := pharmacyID
	if phs, err := s.pharmacies.GetByIDs(ctx, []string{pharmacyID}); err == nil && len(phs) == 1 {
		name = phs[0].Name
	}
	return s.update(ctx, orderID, func(o *Order) error {
		return o.RespondAsPharmacy(pharmacyID, name, d, s.now())
	})
}

// RespondAsRider records the assigned rider's decision. After a rejection
// the next nearest rider is assigned when one is available.
func (s *Service) RespondAsRider(ctx context.Context, riderID, orderID, decision string) (*Order, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, orderID, func(o *Order) error {
		at := s.now()
		if err := o.RespondAsRider(riderID, d, at); err != nil {
			return err
		}
		if d != Reject {
			return nil
		}

		addr, err := s.addresses.Get(ctx, o.UserID, o.AddressID)
		if err != nil {
			s.logger(ctx).Warn("Reassign rider: address lookup", zap.String("order_id", o.ID), zap.Error(err))
			return nil
		}
		next, _ := s.matchRider(ctx, *addr, riderID)
		if next == nil {
			return nil
		}
		return o.AssignRider(next.ID, next.Name, at)
	})
}

// MarkPickedUp records the rider's pickup.
func (s *Service) MarkPickedUp(ctx context.Context, riderID, orderID string) (*Order, error) {
	return s.update(ctx, orderID, func(o *Order) error {
		return o.MarkPickedUp(riderID, s.now())
	})
}

// MarkDelivered records delivery with the rider's proof image.
func (s *Service) MarkDelivered(ctx context.Context, riderID, orderID, proofURL string) (*Order, error) {
	return s.update(ctx, orderID, func(o *Order) error {
		return o.MarkDelivered(riderID, proofURL, s.now())
	})
}

// Refund is called by payment reconciliation for Cancelled or Delivered orders.
func (s *Service) Refund(ctx context.Context, orderID, note string) (*Order, error) {
	return s.update(ctx, orderID, func(o *Order) error {
		return o.Refund(note, s.now())
	})
}

// RemoveDelivered deletes the customer's Delivered order.
func (s *Service) RemoveDelivered(ctx context.Context, userID, orderID string) error {
	o, err := s.get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		return ErrNotFound
	}
	if err := o.CheckRemovable(); err != nil {
		return err
	}

	o.record(EventRemoved, "", stampTime(s.now()))
	if err := s.orders.Delete(ctx, o.ID, o.Version, o.PullEvents()); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrNotFound) {
			return err
		}
		return apperr.Dependency("delete order", err)
	}
	return nil
}

func (s *Service) endSpan(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		s.logger(ctx).Debug("Checkout failed", zap.String("code", apperr.CodeOf(err)), zap.Error(err))
	}
	span.End()
}
