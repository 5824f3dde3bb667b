package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/app"
	"github.com/parcelhub/backend-tracking/internal/batch"
	"github.com/parcelhub/backend-tracking/internal/config"
	"github.com/parcelhub/backend-tracking/internal/events"
	"github.com/parcelhub/backend-tracking/internal/lock"
	"github.com/parcelhub/backend-tracking/internal/obs"
	"github.com/parcelhub/backend-tracking/internal/ratelimit"
	"github.com/parcelhub/backend-tracking/internal/store"
)

// taskBatchRun is the asynq task type for a scheduled reconciliation pass.
const taskBatchRun = "tracking:batch_run"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "tracking"), nil)

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

	shipments := store.NewPostgres(pool)
	tracker := &batch.Tracker{
		Store:    shipments,
		Registry: app.BuildCarriers(cfg, logger).Registry,
		Bus: &events.Bus{
			Store:     shipments,
			Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
		},
		Locker: lock.Locker{R: redisClient},
		Budget: ratelimit.CarrierBudget{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "carrier:budget:"},
			Window:  cfg.CarrierRateWindow,
			Max:     cfg.CarrierRateMax,
		},
		PerCarrier:  cfg.BatchPerCarrier,
		CallTimeout: cfg.CarrierTimeout,
		LockTTL:     cfg.BatchLockTTL,
		Logger:      logger,
	}

	redisOpt, err := asynqRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for asynq")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(cfg.BatchCron, asynq.NewTask(taskBatchRun, nil)); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.BatchCron).Msg("register batch schedule")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskBatchRun, func(taskCtx context.Context, _ *asynq.Task) error {
		report, err := tracker.Run(taskCtx)
		if err != nil {
			if errors.Is(err, batch.ErrRunInProgress) {
				logger.Info().Msg("batch run skipped, previous run still in progress")
				return nil
			}
			return err
		}
		logger.Info().
			Int("total", report.Total).
			Int("processed", report.Processed).
			Int("updated", report.Updated).
			Int("unchanged", report.Unchanged).
			Int("not_found", report.NotFound).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("batch run finished")
		return nil
	})

	server := asynq.NewServer(redisOpt, asynq.Config{
		// A run is exclusive anyway; one worker slot avoids pointless lock churn.
		Concurrency: 1,
	})

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker server")
	}
	logger.Info().Str("cron", cfg.BatchCron).Msg("worker started")

	<-ctx.Done()
	server.Shutdown()
	scheduler.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func asynqRedisOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
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
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tracking-worker"
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

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
