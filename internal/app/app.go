package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/pricing"
	"github.com/xenking/cookieshop/internal/domain/promo"
	"github.com/xenking/cookieshop/internal/handler"
	"github.com/xenking/cookieshop/internal/storage/postgres"
	"github.com/xenking/cookieshop/internal/storage/redis"
	"github.com/xenking/cookieshop/pkg/health"
	"github.com/xenking/cookieshop/pkg/httpmiddleware"
)

const serviceName = "cookieshop-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Bool("trust_client_totals", cfg.Pricing.TrustClientTotals),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", health.PingCheck("postgres", pool),
		health.CheckOptions{Timeout: 5 * time.Second})
	healthSvc.Add(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.CheckOptions{})

	// Redis is optional; without it order creation is not idempotent.
	var idemStore httpmiddleware.IdempotencyStore
	if cfg.RedisURL != "" {
		store, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = store.Close() }()

		idemStore = store
		healthSvc.Add(health.Readiness, "redis", health.PingCheck("redis", store),
			health.CheckOptions{Timeout: 2 * time.Second})
	} else {
		lg.Warn("Redis URL not set, Idempotency-Key headers are ignored")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	engine := pricing.NewEngine(promo.NewLookup(promoRepo), pricing.Config{
		TrustClientTotals: cfg.Pricing.TrustClientTotals,
	})
	metrics, err := order.NewMetrics(m.MeterProvider().Meter("github.com/xenking/cookieshop/internal/domain/order"))
	if err != nil {
		return errors.Wrap(err, "create order metrics")
	}
	orderService := order.NewService(productRepo, engine, orderRepo, metrics)
	promoService := promo.NewService(promoRepo, productRepo)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		orderService,
		promoService,
	)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.Live)
	router.Get("/readyz", healthSvc.Ready)
	router.Group(func(r chi.Router) {
		r.Use(
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
		)
		h.Mount(r, securityHandler, httpmiddleware.Idempotency(httpmiddleware.IdempotencyConfig{
			Store: idemStore,
			TTL:   cfg.Idempotency.TTL,
			Scope: handler.IdempotencyScope,
		}))
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization", handler.APIKeyHeader,
					handler.UserIDHeader, httpmiddleware.IdempotencyKeyHeader,
				},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
