package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pharmacart/db"
	"github.com/xenking/pharmacart/internal/domain/auth"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/coupon"
	"github.com/xenking/pharmacart/internal/domain/geo"
	"github.com/xenking/pharmacart/internal/handler"
	"github.com/xenking/pharmacart/internal/storage/postgres"
)

type seedFile struct {
	Pharmacies []struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Active    bool     `json:"active"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"pharmacies"`
	Medicines []struct {
		ID          string          `json:"id"`
		PharmacyID  string          `json:"pharmacyId"`
		Name        string          `json:"name"`
		MRP         decimal.Decimal `json:"mrp"`
		Description string          `json:"description"`
		Images      []string        `json:"images"`
	} `json:"medicines"`
	Riders []struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Phone     string          `json:"phone"`
		Status    string          `json:"status"`
		Latitude  string          `json:"latitude"`
		Longitude string          `json:"longitude"`
		PerKmRate decimal.Decimal `json:"perKmRate"`
	} `json:"riders"`
	Addresses []struct {
		ID        string   `json:"id"`
		UserID    string   `json:"userId"`
		House     string   `json:"house"`
		Street    string   `json:"street"`
		City      string   `json:"city"`
		State     string   `json:"state"`
		Pincode   string   `json:"pincode"`
		Country   string   `json:"country"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		IsDefault bool     `json:"isDefault"`
	} `json:"addresses"`
	Coupons []struct {
		Code               string          `json:"code"`
		DiscountPercentage decimal.Decimal `json:"discountPercentage"`
		ExpirationDate     *time.Time      `json:"expirationDate"`
	} `json:"coupons"`
	APIKeys []struct {
		ID     string   `json:"id"`
		Key    string   `json:"key"`
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	} `json:"apiKeys"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKeyPepper string
		jwtSecret    string
		tokenTTL     time.Duration
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "", "path to seed JSON file (defaults to the embedded db/seed/seed.json)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PHARMACART_API_KEY_PEPPER env)")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print demo bearer tokens signed with this secret (or PHARMACART_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed demo tokens")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("PHARMACART_DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PHARMACART_API_KEY_PEPPER")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("PHARMACART_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")

	if jwtSecret != "" {
		if err := printTokens(lg, []byte(jwtSecret), tokenTTL); err != nil {
			lg.Fatal("Issue demo tokens", zap.Error(err))
		}
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath, pepper string) error {
	data := db.Seed
	if seedPath != "" {
		var err error
		if data, err = os.ReadFile(seedPath); err != nil {
			return errors.Wrap(err, "read seed file")
		}
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Medicines reference pharmacies; everything else is independent.
	if err := seedPharmacies(ctx, postgres.NewPharmacyRepository(pool), &seed); err != nil {
		return errors.Wrap(err, "seed pharmacies")
	}
	lg.Info("Upserted pharmacies", zap.Int("count", len(seed.Pharmacies)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := seedMedicines(gctx, postgres.NewCatalogRepository(pool), &seed); err != nil {
			return errors.Wrap(err, "seed medicines")
		}
		lg.Info("Upserted medicines", zap.Int("count", len(seed.Medicines)))
		return nil
	})
	g.Go(func() error {
		if err := seedRiders(gctx, postgres.NewRiderRepository(pool), &seed); err != nil {
			return errors.Wrap(err, "seed riders")
		}
		lg.Info("Upserted riders", zap.Int("count", len(seed.Riders)))
		return nil
	})
	g.Go(func() error {
		if err := seedAddresses(gctx, postgres.NewAddressRepository(pool), &seed); err != nil {
			return errors.Wrap(err, "seed addresses")
		}
		lg.Info("Upserted addresses", zap.Int("count", len(seed.Addresses)))
		return nil
	})
	g.Go(func() error {
		if err := seedCoupons(gctx, postgres.NewCouponRepository(pool), &seed); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		lg.Info("Upserted coupons", zap.Int("count", len(seed.Coupons)))
		return nil
	})
	g.Go(func() error {
		repo := postgres.NewAPIKeyRepository(pool)
		for _, k := range seed.APIKeys {
			if err := repo.Upsert(gctx, auth.APIKeyInfo{
				ID:      k.ID,
				KeyHash: auth.HashKey([]byte(pepper), k.Key),
				Name:    k.Name,
				Scopes:  k.Scopes,
			}); err != nil {
				return errors.Wrapf(err, "seed api key %s", k.ID)
			}
			lg.Info("Upserted API key", zap.String("id", k.ID), zap.Strings("scopes", k.Scopes))
		}
		return nil
	})
	return g.Wait()
}

func seedPharmacies(ctx context.Context, repo *postgres.PharmacyRepository, seed *seedFile) error {
	out := make([]catalog.Pharmacy, len(seed.Pharmacies))
	for i, p := range seed.Pharmacies {
		out[i] = catalog.Pharmacy{ID: p.ID, Name: p.Name, Active: p.Active}
		out[i].Coords, out[i].HasCoords = coords(p.Latitude, p.Longitude)
	}
	return repo.Upsert(ctx, out)
}

func seedMedicines(ctx context.Context, repo *postgres.CatalogRepository, seed *seedFile) error {
	out := make([]catalog.Medicine, len(seed.Medicines))
	for i, m := range seed.Medicines {
		out[i] = catalog.Medicine{
			ID:          m.ID,
			PharmacyID:  m.PharmacyID,
			Name:        m.Name,
			MRP:         m.MRP,
			Description: m.Description,
			Images:      m.Images,
		}
	}
	return repo.Upsert(ctx, out)
}

func seedRiders(ctx context.Context, repo *postgres.RiderRepository, seed *seedFile) error {
	out := make([]catalog.Rider, len(seed.Riders))
	for i, r := range seed.Riders {
		out[i] = catalog.Rider{
			ID:        r.ID,
			Name:      r.Name,
			Phone:     r.Phone,
			Status:    catalog.RiderStatus(r.Status),
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			PerKmRate: r.PerKmRate,
		}
	}
	return repo.Upsert(ctx, out)
}

func seedAddresses(ctx context.Context, repo *postgres.AddressRepository, seed *seedFile) error {
	out := make([]catalog.Address, len(seed.Addresses))
	for i, a := range seed.Addresses {
		out[i] = catalog.Address{
			ID:        a.ID,
			UserID:    a.UserID,
			House:     a.House,
			Street:    a.Street,
			City:      a.City,
			State:     a.State,
			Pincode:   a.Pincode,
			Country:   a.Country,
			IsDefault: a.IsDefault,
		}
		out[i].Coords, out[i].HasCoords = coords(a.Latitude, a.Longitude)
	}
	return repo.Upsert(ctx, out)
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, seed *seedFile) error {
	out := make([]coupon.Coupon, len(seed.Coupons))
	for i, c := range seed.Coupons {
		out[i] = coupon.Coupon{Code: c.Code, DiscountPercentage: c.DiscountPercentage}
		if c.ExpirationDate != nil {
			out[i].ExpirationDate = c.ExpirationDate.UTC()
		}
	}
	return repo.Upsert(ctx, out)
}

func coords(lat, lon *float64) (geo.Coordinates, bool) {
	if lat == nil || lon == nil {
		return geo.Coordinates{}, false
	}
	return geo.Coordinates{Lat: *lat, Lon: *lon}, true
}

// printTokens issues bearer tokens for the seeded demo actors.
func printTokens(lg *zap.Logger, secret []byte, ttl time.Duration) error {
	issuer := handler.NewBearerAuth(secret, os.Getenv("PHARMACART_JWT_ISSUER"))
	actors := []auth.Actor{
		{ID: "user-demo", Role: auth.RoleCustomer, Name: "Demo Customer"},
		{ID: "ph-koregaon", Role: auth.RoleVendor, Name: "Koregaon Park Chemists"},
		{ID: "rider-amit", Role: auth.RoleRider, Name: "Amit Patil"},
	}
	for _, a := range actors {
		tok, err := issuer.Issue(a, ttl)
		if err != nil {
			return err
		}
		lg.Info("Demo token", zap.String("actor_id", a.ID), zap.String("role", string(a.Role)), zap.String("token", tok))
	}
	return nil
}
