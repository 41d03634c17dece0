package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-resto/internal/config"
	"github.com/noah-isme/backend-resto/internal/events"
	"github.com/noah-isme/backend-resto/internal/obs"
	"github.com/noah-isme/backend-resto/internal/order"
	"github.com/noah-isme/backend-resto/internal/promotion"
	"github.com/noah-isme/backend-resto/internal/voucher"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

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

	voucherStore := voucher.NewStore(pool)
	orderStore := order.NewStore(pool)
	eventStore := events.NewStore(pool)

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
	if cfg.MetricsEnabled {
		domainMetrics = obs.NewDomainMetrics(cfg.MetricsNamespace, nil)
	}

	svc := &order.Service{
		Orders:   orderStore,
		Vouchers: voucherStore,
		Ledger:   ledger,
		Resolver: promotion.Resolver{DayStartHour: cfg.BusinessDayStartHr},
		Scheduler: &order.CancelScheduler{
			Client:    taskClient,
			Inspector: asynq.NewInspector(taskConn),
			Queue:     cfg.CancelQueueName,
			MaxRetry:  cfg.CancelMaxRetry,
		},
		Bus:       &events.Bus{Store: eventStore},
		Metrics:   domainMetrics,
		Log:       logger,
		UnpaidTTL: cfg.UnpaidOrderTTL,
	}

	// Orders whose cancellation task was lost while the worker was down are
	// swept on boot before new tasks are consumed.
	if cfg.RescanOnStartup {
		if err := order.RescanOverdue(ctx, svc, cfg.UnpaidOrderTTL, logger); err != nil {
			logger.Error().Err(err).Msg("rescan overdue orders")
		}
	}

	srv := asynq.NewServer(taskConn, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{cfg.CancelQueueName: 1},
		Logger:      asynqLogger{logger},
	})
	mux := asynq.NewServeMux()
	mux.Handle(order.TaskCancelUnpaid, order.NewCancelHandler(svc, logger))

	logger.Info().Str("queue", cfg.CancelQueueName).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "resto-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// asynqLogger adapts zerolog to the task server's logging interface.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msgf("%v", args) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msgf("%v", args) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msgf("%v", args) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msgf("%v", args) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msgf("%v", args) }
