package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		cfg         ingestConfig
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.BatchSize, "batch-size", 1000, "coupons per upsert batch")
	flag.IntVar(&cfg.Writers, "writers", 4, "concurrent batch writers")
	flag.UintVar(&cfg.ExpectedCodes, "expected-codes", 1_000_000, "expected number of distinct codes, sizes the bloom filter")
	flag.Float64Var(&cfg.FalsePositiveRate, "fpr", 0.001, "bloom filter false positive rate")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("Usage: coupon-ingest [flags] coupons1.csv.gz [coupons2.csv.gz ...]")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, cfg); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, cfg ingestConfig) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	st, err := newIngester(postgres.NewCouponRepository(pool), cfg, lg).Ingest(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Coupon ingest completed",
		zap.Int("files", len(files)),
		zap.Int("rows", st.Rows),
		zap.Int("written", st.Written),
		zap.Int("duplicates", st.Duplicates),
		zap.Int("invalid", st.Invalid),
	)
	return nil
}
