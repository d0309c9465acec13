// Package catalog holds the read-only records owned by other services that
// the order pipeline looks up: medicines, pharmacies, riders and addresses.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/geo"
)

var (
	ErrMedicineNotFound = apperr.New(apperr.KindNotFound, "medicine_not_found", "medicine not found")
	ErrPharmacyNotFound = apperr.New(apperr.KindNotFound, "pharmacy_not_found", "pharmacy not found")
	ErrRiderNotFound    = apperr.New(apperr.KindNotFound, "rider_not_found", "rider not found")
	ErrAddressNotFound  = apperr.New(apperr.KindNotFound, "address_not_found", "address not found")
	// ErrNoActivePharmacy is returned when no pharmacy can fulfil an order.
	ErrNoActivePharmacy = apperr.New(apperr.KindNotFound, "no_active_pharmacy", "no active pharmacy available")
)

// Medicine is a catalog entry sold by one pharmacy.
type Medicine struct {
	ID         string
	PharmacyID string
	Name       string
	// MRP is the price charged to customers.
	MRP         decimal.Decimal
	Description string
	Images      []string
}

// Pharmacy is a vendor fulfilling orders.
type Pharmacy struct {
	ID     string
	Name   string
	Active bool
	Coords geo.Coordinates
	// HasCoords is false for pharmacies registered with a free-text location only.
	HasCoords bool
}

// Location implements geo.Locatable.
func (p Pharmacy) Location() (geo.Coordinates, bool) { return p.Coords, p.HasCoords }

// RiderStatus is a rider's availability.
type RiderStatus string

const (
	RiderOnline  RiderStatus = "online"
	RiderOffline RiderStatus = "offline"
)

// Rider is a delivery candidate. Latitude and Longitude are kept as the
// profile service stores them and may be empty.
type Rider struct {
	ID        string
	Name      string
	Phone     string
	Status    RiderStatus
	Latitude  string
	Longitude string
	// PerKmRate is the rider's delivery charge per kilometre.
	PerKmRate decimal.Decimal
}

// Location implements geo.Locatable.
func (r Rider) Location() (geo.Coordinates, bool) { return geo.Parse(r.Latitude, r.Longitude) }

// Address is a customer delivery address.
type Address struct {
	ID        string
	UserID    string
	House     string
	Street    string
	City      string
	State     string
	Pincode   string
	Country   string
	Coords    geo.Coordinates
	HasCoords bool
	IsDefault bool
}

// Location implements geo.Locatable.
func (a Address) Location() (geo.Coordinates, bool) { return a.Coords, a.HasCoords }

// MedicineRepository provides medicine lookup.
type MedicineRepository interface {
	// GetByIDs returns the medicines found; missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Medicine, error)
}

// PharmacyRepository provides pharmacy lookup.
type PharmacyRepository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Pharmacy, error)
	// AnyActive returns one active pharmacy or ErrNoActivePharmacy.
	AnyActive(ctx context.Context) (*Pharmacy, error)
}

// RiderRepository provides rider lookup.
type RiderRepository interface {
	GetByID(ctx context.Context, id string) (*Rider, error)
	// ListAvailable returns online riders.
	ListAvailable(ctx context.Context) ([]Rider, error)
}

// AddressRepository provides the customer's saved addresses.
type AddressRepository interface {
	// Get returns ErrAddressNotFound unless the address belongs to userID.
	Get(ctx context.Context, userID, addressID string) (*Address, error)
	// Default returns the user's default address or ErrAddressNotFound.
	Default(ctx context.Context, userID string) (*Address, error)
}

// MedicinesByID fetches ids and indexes them, failing with
// ErrMedicineNotFound when any id is missing.
func MedicinesByID(ctx context.Context, repo MedicineRepository, ids []string) (map[string]Medicine, error) {
	found, err := repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Dependency("get medicines", err)
	}
	byID := make(map[string]Medicine, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, &MedicineNotFoundError{MedicineID: id}
		}
	}
	return byID, nil
}

// MedicineNotFoundError names the missing medicine. It matches
// ErrMedicineNotFound with errors.Is.
type MedicineNotFoundError struct {
	MedicineID string
}

func (e *MedicineNotFoundError) Error() string {
	return "medicine " + e.MedicineID + " not found"
}

func (e *MedicineNotFoundError) Unwrap() error { return ErrMedicineNotFound }
