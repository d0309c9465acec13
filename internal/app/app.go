package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/coupon"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/periodic"
	"github.com/xenking/pharmacart/internal/handler"
	"github.com/xenking/pharmacart/internal/outbox"
	"github.com/xenking/pharmacart/internal/payment/razorpay"
	"github.com/xenking/pharmacart/internal/storage/postgres"
	"github.com/xenking/pharmacart/internal/storage/redis"
	"github.com/xenking/pharmacart/pkg/health"
	"github.com/xenking/pharmacart/pkg/httpmiddleware"
)

const serviceName = "pharmacart-api"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis for checkout locks and the shared rate limiter.
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := goredis.NewClient(redisOpts)
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("Close redis client", zap.Error(err))
		}
	}()

	engine, err := cfg.Pricing.Engine()
	if err != nil {
		return err
	}
	policy, err := order.ParsePolicy(cfg.Orders.VendorTransitions)
	if err != nil {
		return err
	}

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	medicineRepo := postgres.NewCatalogRepository(pool)
	pharmacyRepo := postgres.NewPharmacyRepository(pool)
	riderRepo := postgres.NewRiderRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Payment gateway.
	gateway := razorpay.New(razorpay.Config{
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Timeout:   cfg.Payment.Timeout,
		Breaker: razorpay.BreakerConfig{
			MaxRequests:         cfg.Payment.Breaker.MaxRequests,
			Interval:            cfg.Payment.Breaker.Interval,
			OpenTimeout:         cfg.Payment.Breaker.OpenTimeout,
			ConsecutiveFailures: cfg.Payment.Breaker.ConsecutiveFailures,
		},
	}, lg.Named("razorpay"))

	// Domain services.
	coupons := coupon.NewRepoResolver(couponRepo)
	orderService, err := order.NewService(order.Deps{
		Orders:         orderRepo,
		Carts:          cartRepo,
		Coupons:        coupons,
		Medicines:      medicineRepo,
		Pharmacies:     pharmacyRepo,
		Riders:         riderRepo,
		Addresses:      addressRepo,
		Engine:         engine,
		Payments:       payment.NewVerifier(gateway, cfg.Payment.Currency),
		Locker:         redis.NewLocker(rdb, "pharmacart:lock:"),
		Reconciliation: postgres.NewReconciliationLog(pool),
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	}, order.Config{
		Policy:          policy,
		CheckoutLockTTL: cfg.Orders.CheckoutLockTTL,
	}, lg.Named("order"))
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	cartService := cart.NewService(cartRepo, medicineRepo, engine)
	planner := periodic.NewPlanner(orderRepo, medicineRepo, pharmacyRepo, addressRepo, coupons, engine, lg.Named("periodic"))

	// Health checks.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second), health.WithThresholds(3, 1))

	// Outbox relay.
	g, gctx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		pub := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		relay, err := outbox.NewRelay(postgres.NewOutboxRepository(pool), pub, outbox.Config{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			Parallelism: cfg.Outbox.Parallelism,
		}, m.MeterProvider(), lg.Named("outbox"))
		if err != nil {
			return errors.Wrap(err, "create outbox relay")
		}
		healthSvc.AddReadinessCheck("kafka", 3*time.Second, health.PingCheck(pub), health.NonCritical())
		g.Go(func() error {
			return relay.Run(gctx)
		})
	} else {
		lg.Warn("No Kafka brokers configured, order events stay in the outbox")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP surface.
	var limiter httpmiddleware.Limiter
	rl := httpmiddleware.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	if strings.EqualFold(cfg.RateLimit.Backend, "memory") {
		mem := httpmiddleware.NewMemoryLimiter(rl)
		g.Go(func() error {
			mem.RunSweeper(gctx)
			return nil
		})
		limiter = mem
	} else {
		limiter = httpmiddleware.NewRedisLimiter(rdb, "pharmacart:ratelimit:", rl)
	}

	h := handler.New(orderService, cartService, planner, lg.Named("handler"))
	router := handler.NewRouter(h,
		handler.NewBearerAuth([]byte(cfg.JWTSecret), cfg.JWTIssuer),
		handler.NewKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper)),
		handler.Probes{Live: healthSvc.LiveEndpoint, Ready: healthSvc.ReadyEndpoint},
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RouteContext(),
			httpmiddleware.Instrument(serviceName, m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.Labeler(),
			httpmiddleware.LogRequests(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, rl),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
