package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pharmacart/internal/domain/coupon"
)

// couponStore is the subset of the coupon repository used by the ingester.
type couponStore interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	Upsert(ctx context.Context, coupons []coupon.Coupon) error
}

type ingestConfig struct {
	BatchSize         int
	Writers           int
	ExpectedCodes     uint
	FalsePositiveRate float64
}

type stats struct {
	Rows       int
	Written    int
	Duplicates int
	Invalid    int
}

// ingester streams gzip CSV files of code,discountPercentage[,expirationDate]
// rows into the coupons table. The first occurrence of a code wins; later
// rows with the same code are skipped.
type ingester struct {
	store  couponStore
	cfg    ingestConfig
	lg     *zap.Logger
	filter *bloom.BloomFilter

	// pending holds codes read but not yet known to be written.
	pending map[string]struct{}
	written atomic.Int64
}

func newIngester(store couponStore, cfg ingestConfig, lg *zap.Logger) *ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 4
	}
	if cfg.ExpectedCodes == 0 {
		cfg.ExpectedCodes = 1_000_000
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = 0.001
	}
	return &ingester{
		store:   store,
		cfg:     cfg,
		lg:      lg,
		filter:  bloom.NewWithEstimates(cfg.ExpectedCodes, cfg.FalsePositiveRate),
		pending: make(map[string]struct{}),
	}
}

// Ingest reads files in order and writes batches concurrently.
func (in *ingester) Ingest(ctx context.Context, files []string) (stats, error) {
	var st stats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Writers)

	batch := make([]coupon.Coupon, 0, in.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = make([]coupon.Coupon, 0, in.cfg.BatchSize)
		g.Go(func() error {
			if err := in.store.Upsert(gctx, b); err != nil {
				return errors.Wrapf(err, "upsert %d coupons", len(b))
			}
			in.written.Add(int64(len(b)))
			return nil
		})
	}

	for _, path := range files {
		err := in.readFile(gctx, path, func(c coupon.Coupon) error {
			st.Rows++
			dup, err := in.seen(gctx, c.Code)
			if err != nil {
				return err
			}
			if dup {
				st.Duplicates++
				return nil
			}
			batch = append(batch, c)
			if len(batch) == in.cfg.BatchSize {
				flush()
			}
			return nil
		}, func(line int, err error) {
			st.Rows++
			st.Invalid++
			in.lg.Warn("Skipping invalid row", zap.String("file", path), zap.Int("line", line), zap.Error(err))
		})
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return st, werr
			}
			return st, err
		}
		in.lg.Info("File read", zap.String("file", path), zap.Int("rows", st.Rows))
	}
	flush()

	err := g.Wait()
	st.Written = int(in.written.Load())
	return st, err
}

// seen reports whether code was already read in this run or exists in the
// store. The bloom filter answers "new" for most codes; its positives are
// confirmed against the pending set and the store.
func (in *ingester) seen(ctx context.Context, code string) (bool, error) {
	if !in.filter.TestAndAddString(code) {
		in.pending[code] = struct{}{}
		return false, nil
	}
	if _, ok := in.pending[code]; ok {
		return true, nil
	}
	_, err := in.store.FindByCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, coupon.ErrInvalidCoupon):
		in.pending[code] = struct{}{}
		return false, nil
	default:
		return false, errors.Wrapf(err, "check coupon %s", code)
	}
}

func (in *ingester) readFile(ctx context.Context, path string, fn func(coupon.Coupon) error, bad func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return readCoupons(ctx, gz, fn, bad)
}

// readCoupons parses CSV rows from r. A header row starting with "code" is
// skipped.
func readCoupons(ctx context.Context, r io.Reader, fn func(coupon.Coupon) error, bad func(line int, err error)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				bad(line, err)
				continue
			}
			return errors.Wrap(err, "read csv")
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}
		c, err := parseRow(rec)
		if err != nil {
			bad(line, err)
			continue
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}

func parseRow(rec []string) (coupon.Coupon, error) {
	if len(rec) < 2 {
		return coupon.Coupon{}, errors.Errorf("want at least 2 columns, got %d", len(rec))
	}
	c := coupon.Coupon{Code: coupon.NormalizeCode(rec[0])}
	if c.Code == "" {
		return coupon.Coupon{}, errors.New("empty code")
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "discount percentage")
	}
	c.DiscountPercentage = pct
	if !c.Valid() {
		return coupon.Coupon{}, errors.Errorf("discount percentage %s out of range", pct)
	}
	if len(rec) > 2 {
		if s := strings.TrimSpace(rec[2]); s != "" {
			t, err := parseExpiry(s)
			if err != nil {
				return coupon.Coupon{}, err
			}
			c.ExpirationDate = t
		}
	}
	return c, nil
}

// parseExpiry accepts RFC 3339 or a bare date, which expires at the end of
// that day UTC.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("expiration date %q", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}
