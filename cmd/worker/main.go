package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"savanna-sms/internal/adapter/gateway"
	"savanna-sms/internal/adapter/postgres"
	"savanna-sms/internal/adapter/rabbitmq"
	redisadapter "savanna-sms/internal/adapter/redis"
	"savanna-sms/internal/adapter/usecase"
	"savanna-sms/internal/config"
	"savanna-sms/internal/db"
	"savanna-sms/internal/render"
)

// main is the entry point of the worker process. It consumes bulk-send
// batch jobs from the work queue and runs the periodic pipeline jobs:
// dispatching due scheduled campaigns, backfilling missing ledger debits
// and polling the gateway for messages with lost send responses. Several
// worker processes may run concurrently; all coordination happens through
// the database, the queue and the shared rate-limit counters.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var logger *slog.Logger
	{
		var handler slog.Handler
		level := cfg.Log.SlogLevel()
		switch cfg.Log.SlogFormat() {
		case "json":
			handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		default:
			handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		}
		logger = slog.New(handler)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.Psql)
	if err != nil {
		logger.Error("database connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var limiterStore redis.Cmdable
	if rdb, err := db.NewRedisClient(ctx, cfg.Redis); err != nil {
		// the limiter fails open, so a missing counter store degrades
		// enforcement instead of stopping the worker
		logger.Warn("redis unavailable, rate limiting will fail open", slog.Any("error", err))
	} else {
		defer rdb.Close()
		limiterStore = rdb
	}

	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		logger.Error("work queue connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	publisher, err := rabbitmq.NewPublisher(conn, cfg.AMQP.Queue)
	if err != nil {
		logger.Error("work queue publisher error", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisher.Close()

	campaignRepo := postgres.NewCampaignRepository(pool)
	messageRepo := postgres.NewMessageRepository(pool)
	tenantRepo := postgres.NewTenantRepository(pool)
	contactRepo := postgres.NewContactRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)

	shortener := render.NewShortener(cfg.Pipeline.ShortenerURL, 5*time.Second)
	renderer := render.NewRenderer(shortener, cfg.Pipeline.OptOutBaseURL, []byte(cfg.Pipeline.OptOutSecret))
	limiter := redisadapter.NewFixedWindowLimiter(limiterStore, logger)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	reconciler := usecase.NewReconciler(campaignRepo, messageRepo, ledgerRepo, gw, logger)
	sender := usecase.NewSender(messageRepo, tenantRepo, ledgerRepo, limiter, gw, renderer, reconciler,
		cfg.Pipeline, cfg.Gateway.Account, cfg.Gateway.DefaultSender, logger)
	enqueuer := usecase.NewEnqueuer(campaignRepo, messageRepo, tenantRepo, ledgerRepo, contactRepo, publisher, renderer, cfg.Pipeline, logger)

	sched := cron.New()
	_, err = sched.AddFunc("@every 1m", func() {
		if n, err := enqueuer.DispatchDue(ctx, time.Now()); err != nil {
			logger.Error("scheduled dispatch error", slog.Any("error", err))
		} else if n > 0 {
			logger.Info("dispatched scheduled campaigns", slog.Int("count", n))
		}
	})
	if err != nil {
		logger.Error("cron setup error", slog.Any("error", err))
		os.Exit(1)
	}
	_, _ = sched.AddFunc("@every 5m", func() {
		if _, err := reconciler.SweepUnbilled(ctx, time.Now(), cfg.Pipeline.UnbilledGrace, 500); err != nil {
			logger.Error("unbilled sweep error", slog.Any("error", err))
		}
	})
	_, _ = sched.AddFunc("@every 5m", func() {
		if _, err := reconciler.PollStale(ctx, time.Now(), cfg.Pipeline.StaleAfter, 500); err != nil {
			logger.Error("stale poll error", slog.Any("error", err))
		}
	})
	sched.Start()
	defer sched.Stop()

	consumer := rabbitmq.NewConsumer(conn, cfg.AMQP.Queue, cfg.AMQP.Prefetch, cfg.AMQP.MaxAttempts, cfg.AMQP.BackoffBase, sender, logger)
	if err = consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker gracefully stopped")
}
