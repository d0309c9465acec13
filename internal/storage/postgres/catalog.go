package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/geo"
)

const (
	getMedicinesByIDsSQL = `SELECT id, pharmacy_id, name, mrp, description, images
		FROM medicines WHERE id = ANY($1)`

	getPharmaciesByIDsSQL = `SELECT id, name, active, latitude, longitude
		FROM pharmacies WHERE id = ANY($1)`

	anyActivePharmacySQL = `SELECT id, name, active, latitude, longitude
		FROM pharmacies WHERE active ORDER BY created_at, id LIMIT 1`

	getRiderSQL = `SELECT id, name, phone, status, latitude, longitude, per_km_rate
		FROM riders WHERE id = $1`

	listAvailableRidersSQL = `SELECT id, name, phone, status, latitude, longitude, per_km_rate
		FROM riders WHERE status = 'online' ORDER BY id`

	getAddressSQL = `SELECT id, user_id, house, street, city, state, pincode, country, latitude, longitude, is_default
		FROM addresses WHERE id = $1 AND user_id = $2`

	defaultAddressSQL = `SELECT id, user_id, house, street, city, state, pincode, country, latitude, longitude, is_default
		FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, id LIMIT 1`
)

var (
	_ catalog.MedicineRepository = (*CatalogRepository)(nil)
	_ catalog.AddressRepository  = (*AddressRepository)(nil)
	_ catalog.PharmacyRepository = (*PharmacyRepository)(nil)
	_ catalog.RiderRepository    = (*RiderRepository)(nil)
)

// CatalogRepository reads medicines.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByIDs returns medicines matching any of the given IDs.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Medicine, error) {
	rows, err := r.pool.Query(ctx, getMedicinesByIDsSQL, ids)
	if err != nil {
		return nil, apperr.Dependency("get medicines", err)
	}
	meds, err := pgx.CollectRows(rows, scanMedicine)
	if err != nil {
		return nil, apperr.Dependency("get medicines", err)
	}
	return meds, nil
}

func scanMedicine(row pgx.CollectableRow) (catalog.Medicine, error) {
	var m catalog.Medicine
	err := row.Scan(&m.ID, &m.PharmacyID, &m.Name, &m.MRP, &m.Description, &m.Images)
	return m, err
}

// PharmacyRepository reads pharmacies.
type PharmacyRepository struct {
	pool *pgxpool.Pool
}

// NewPharmacyRepository returns a PharmacyRepository that uses the given pool.
func NewPharmacyRepository(pool *pgxpool.Pool) *PharmacyRepository {
	return &PharmacyRepository{pool: pool}
}

// GetByIDs returns pharmacies matching any of the given IDs.
func (r *PharmacyRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Pharmacy, error) {
	rows, err := r.pool.Query(ctx, getPharmaciesByIDsSQL, ids)
	if err != nil {
		return nil, apperr.Dependency("get pharmacies", err)
	}
	out, err := pgx.CollectRows(rows, scanPharmacy)
	if err != nil {
		return nil, apperr.Dependency("get pharmacies", err)
	}
	return out, nil
}

// AnyActive returns the oldest active pharmacy.
func (r *PharmacyRepository) AnyActive(ctx context.Context) (*catalog.Pharmacy, error) {
	rows, err := r.pool.Query(ctx, anyActivePharmacySQL)
	if err != nil {
		return nil, apperr.Dependency("find active pharmacy", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPharmacy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNoActivePharmacy
		}
		return nil, apperr.Dependency("find active pharmacy", err)
	}
	return &p, nil
}

func scanPharmacy(row pgx.CollectableRow) (catalog.Pharmacy, error) {
	var (
		p        catalog.Pharmacy
		lat, lon *float64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Active, &lat, &lon); err != nil {
		return p, err
	}
	p.Coords, p.HasCoords = coords(lat, lon)
	return p, nil
}

// RiderRepository reads riders.
type RiderRepository struct {
	pool *pgxpool.Pool
}

// NewRiderRepository returns a RiderRepository that uses the given pool.
func NewRiderRepository(pool *pgxpool.Pool) *RiderRepository {
	return &RiderRepository{pool: pool}
}

// GetByID returns catalog.ErrRiderNotFound for an unknown id.
func (r *RiderRepository) GetByID(ctx context.Context, id string) (*catalog.Rider, error) {
	rows, err := r.pool.Query(ctx, getRiderSQL, id)
	if err != nil {
		return nil, apperr.Dependency("get rider", err)
	}
	rd, err := pgx.CollectExactlyOneRow(rows, scanRider)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrRiderNotFound
		}
		return nil, apperr.Dependency("get rider", err)
	}
	return &rd, nil
}

// ListAvailable returns online riders ordered by id.
func (r *RiderRepository) ListAvailable(ctx context.Context) ([]catalog.Rider, error) {
	rows, err := r.pool.Query(ctx, listAvailableRidersSQL)
	if err != nil {
		return nil, apperr.Dependency("list riders", err)
	}
	out, err := pgx.CollectRows(rows, scanRider)
	if err != nil {
		return nil, apperr.Dependency("list riders", err)
	}
	return out, nil
}

func scanRider(row pgx.CollectableRow) (catalog.Rider, error) {
	var (
		rd     catalog.Rider
		status string
	)
	err := row.Scan(&rd.ID, &rd.Name, &rd.Phone, &status, &rd.Latitude, &rd.Longitude, &rd.PerKmRate)
	rd.Status = catalog.RiderStatus(status)
	return rd, err
}

// AddressRepository reads customer addresses.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Get returns the address only when it belongs to userID.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (*catalog.Address, error) {
	return r.one(ctx, "get address", getAddressSQL, addressID, userID)
}

// Default returns the user's default address, or any saved address when
// none is flagged default.
func (r *AddressRepository) Default(ctx context.Context, userID string) (*catalog.Address, error) {
	return r.one(ctx, "get default address", defaultAddressSQL, userID)
}

func (r *AddressRepository) one(ctx context.Context, op, sql string, args ...any) (*catalog.Address, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrAddressNotFound
		}
		return nil, apperr.Dependency(op, err)
	}
	return &a, nil
}

func scanAddress(row pgx.CollectableRow) (catalog.Address, error) {
	var (
		a        catalog.Address
		lat, lon *float64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.House, &a.Street, &a.City, &a.State, &a.Pincode, &a.Country, &lat, &lon, &a.IsDefault)
	if err != nil {
		return a, err
	}
	a.Coords, a.HasCoords = coords(lat, lon)
	return a, nil
}

func coords(lat, lon *float64) (geo.Coordinates, bool) {
	if lat == nil || lon == nil {
		return geo.Coordinates{}, false
	}
	c := geo.Coordinates{Lat: *lat, Lon: *lon}
	return c, c.Valid()
}

func optCoords(c geo.Coordinates, ok bool) (lat, lon *float64) {
	if !ok {
		return nil, nil
	}
	return &c.Lat, &c.Lon
}

const (
	upsertPharmacySQL = `INSERT INTO pharmacies (id, name, active, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, active = EXCLUDED.active,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`

	upsertMedicineSQL = `INSERT INTO medicines (id, pharmacy_id, name, mrp, description, images)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET pharmacy_id = EXCLUDED.pharmacy_id, name = EXCLUDED.name, mrp = EXCLUDED.mrp,
			description = EXCLUDED.description, images = EXCLUDED.images`

	upsertRiderSQL = `INSERT INTO riders (id, name, phone, status, latitude, longitude, per_km_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone, status = EXCLUDED.status,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, per_km_rate = EXCLUDED.per_km_rate`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, house, street, city, state, pincode, country, latitude, longitude, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id, house = EXCLUDED.house, street = EXCLUDED.street,
			city = EXCLUDED.city, state = EXCLUDED.state, pincode = EXCLUDED.pincode,
			country = EXCLUDED.country, latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, is_default = EXCLUDED.is_default`
)

// Upsert inserts or replaces pharmacies.
func (r *PharmacyRepository) Upsert(ctx context.Context, ps []catalog.Pharmacy) error {
	b := &pgx.Batch{}
	for _, p := range ps {
		lat, lon := optCoords(p.Coords, p.HasCoords)
		b.Queue(upsertPharmacySQL, p.ID, p.Name, p.Active, lat, lon)
	}
	return sendBatch(ctx, r.pool, "upsert pharmacies", b)
}

// Upsert inserts or replaces medicines. Their pharmacies must exist.
func (r *CatalogRepository) Upsert(ctx context.Context, ms []catalog.Medicine) error {
	b := &pgx.Batch{}
	for _, m := range ms {
		images := m.Images
		if images == nil {
			images = []string{}
		}
		b.Queue(upsertMedicineSQL, m.ID, m.PharmacyID, m.Name, m.MRP, m.Description, images)
	}
	return sendBatch(ctx, r.pool, "upsert medicines", b)
}

// Upsert inserts or replaces riders.
func (r *RiderRepository) Upsert(ctx context.Context, rs []catalog.Rider) error {
	b := &pgx.Batch{}
	for _, rd := range rs {
		b.Queue(upsertRiderSQL, rd.ID, rd.Name, rd.Phone, string(rd.Status), rd.Latitude, rd.Longitude, rd.PerKmRate)
	}
	return sendBatch(ctx, r.pool, "upsert riders", b)
}

// Upsert inserts or replaces addresses.
func (r *AddressRepository) Upsert(ctx context.Context, as []catalog.Address) error {
	b := &pgx.Batch{}
	for _, a := range as {
		lat, lon := optCoords(a.Coords, a.HasCoords)
		b.Queue(upsertAddressSQL, a.ID, a.UserID, a.House, a.Street, a.City, a.State, a.Pincode, a.Country, lat, lon, a.IsDefault)
	}
	return sendBatch(ctx, r.pool, "upsert addresses", b)
}

func sendBatch(ctx context.Context, pool *pgxpool.Pool, op string, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := pool.SendBatch(ctx, b).Close(); err != nil {
		return apperr.Dependency(op, err)
	}
	return nil
}
