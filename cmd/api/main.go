package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-resto/internal/app"
	"github.com/noah-isme/backend-resto/internal/auth"
	"github.com/noah-isme/backend-resto/internal/common"
	"github.com/noah-isme/backend-resto/internal/config"
	"github.com/noah-isme/backend-resto/internal/events"
	"github.com/noah-isme/backend-resto/internal/health"
	"github.com/noah-isme/backend-resto/internal/lock"
	"github.com/noah-isme/backend-resto/internal/obs"
	"github.com/noah-isme/backend-resto/internal/order"
	"github.com/noah-isme/backend-resto/internal/promotion"
	"github.com/noah-isme/backend-resto/internal/ratelimit"
	"github.com/noah-isme/backend-resto/internal/voucher"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "resto-api",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := app.Migrate(cfg.DatabaseURL, cfg.MigrationsDir, logger); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "resto-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(taskConn)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	taskInspector := asynq.NewInspector(taskConn)

	validate := validator.New()
	resolver := promotion.Resolver{DayStartHour: cfg.BusinessDayStartHr}

	voucherStore := voucher.NewStore(pool)
	promotionStore := promotion.NewStore(pool)
	orderStore := order.NewStore(pool)
	eventStore := events.NewStore(pool)
	bus := &events.Bus{Store: eventStore}

	ledger := &voucher.Ledger{
		Runner: voucherStore,
		Validator: voucher.Validator{
			DayStartHour: cfg.BusinessDayStartHr,
			Rule:         cfg.ApplicabilityRule,
		},
		Lifecycle: voucher.Lifecycle{DayStartHour: cfg.BusinessDayStartHr},
		Log:       logger,
	}

	var domainMetrics *obs.DomainMetrics
	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		domainMetrics = obs.NewDomainMetrics(cfg.MetricsNamespace, nil)
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)
	}

	orderSvc := &order.Service{
		Orders:     orderStore,
		Vouchers:   voucherStore,
		Ledger:     ledger,
		Promotions: promotionStore,
		Resolver:   resolver,
		Scheduler: &order.CancelScheduler{
			Client:    taskClient,
			Inspector: taskInspector,
			Queue:     cfg.CancelQueueName,
			MaxRetry:  cfg.CancelMaxRetry,
		},
		Bus:       bus,
		Locker:    lock.Locker{R: redisClient, RetryBackoff: cfg.AttachLockBackoff},
		Metrics:   domainMetrics,
		Log:       logger,
		UnpaidTTL: cfg.UnpaidOrderTTL,
		LockTTL:   cfg.AttachLockTTL,
	}

	orderHandler := &order.Handler{Service: orderSvc, Validate: validate}
	voucherHandler := &voucher.Handler{Store: voucherStore, Validate: validate}
	promotionHandler := &promotion.Handler{Store: promotionStore, Resolver: resolver, Validate: validate}

	authService := &auth.Service{
		Secret: []byte(cfg.JWTSecret),
		Issuer: "resto-api",
	}
	authMW := auth.Middleware{Service: authService}

	applyLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:voucher"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				if id, ok := common.UserID(r.Context()); ok {
					return id
				}
				return r.RemoteAddr
			},
			Window: time.Minute,
			Max:    cfg.VoucherApplyPerMin,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("voucher rate limiter")
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.AppEnv != "production" {
		r.Mount("/debug/pprof", pprofMux())
	}

	healthHandler := health.Handler{
		Probes: map[string]health.Probe{
			"db":    health.PgProbe(pool),
			"redis": health.RedisProbe(redisClient),
		},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(g chi.Router) {
			g.Use(authMW.RequireAuth)
			g.Post("/orders", orderHandler.Create)
			g.Get("/orders", orderHandler.List)
			g.Route("/orders/{orderId}", func(o chi.Router) {
				o.Get("/", orderHandler.Get)
				o.Post("/items", orderHandler.AddItem)
				o.Patch("/items/{lineId}", orderHandler.UpdateItem)
				o.Delete("/items/{lineId}", orderHandler.RemoveItem)
				o.With(applyLimit.Middleware).Post("/apply-voucher", orderHandler.ApplyVoucher)
				o.Delete("/voucher", orderHandler.RemoveVoucher)
				o.Post("/pay", orderHandler.Pay)
				o.Post("/cancel", orderHandler.Cancel)
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMW.RequireAuth)
			admin.Use(authMW.RequireRole("admin"))
			admin.Post("/vouchers", voucherHandler.Create)
			admin.Get("/vouchers", voucherHandler.List)
			admin.Post("/promotions", promotionHandler.Create)
			admin.Get("/branches/{branchID}/promotions", promotionHandler.ListByBranch)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func pprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}
