package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"

	"savanna-sms/internal/adapter/gateway"
	httpadapter "savanna-sms/internal/adapter/http"
	"savanna-sms/internal/adapter/postgres"
	"savanna-sms/internal/adapter/rabbitmq"
	"savanna-sms/internal/adapter/usecase"
	"savanna-sms/internal/config"
	"savanna-sms/internal/db"
	"savanna-sms/internal/render"
)

// main is the entry point of the API server. It loads configuration,
// optionally runs database migrations, initializes the database pool, the
// work queue publisher and the delivery pipeline components, then starts
// the HTTP server. On receiving a termination signal it gracefully shuts
// down the server.
func main() {
	exitCode := 1
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		} else {
			os.Exit(exitCode)
		}
	}()

	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var logger *slog.Logger
	{
		// Initialise structured logger based on configuration.
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

	// Optionally run migrations if configured. We use the Psql sub-config.
	if cfg.Psql.RunMigrations {
		if err = db.Migrate(cfg.Psql.Addr.String()); err != nil {
			logger.Error("migration error", slog.Any("error", err))
		} else {
			logger.Info("migrations applied successfully")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.Psql)
	if err != nil {
		logger.Error("database connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Psql.Seed {
		if err = db.Seed(ctx, pool); err != nil {
			logger.Error("seed error", slog.Any("error", err))
		}
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

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	reconciler := usecase.NewReconciler(campaignRepo, messageRepo, ledgerRepo, gw, logger)
	enqueuer := usecase.NewEnqueuer(campaignRepo, messageRepo, tenantRepo, ledgerRepo, contactRepo, publisher, renderer, cfg.Pipeline, logger)
	credits := usecase.NewCredits(ledgerRepo)

	handler := httpadapter.NewHandler(campaignRepo, enqueuer, reconciler, credits, cfg.Gateway.WebhookSecret, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("server listening", slog.Int("port", int(cfg.HTTP.Port)))
		if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	value := <-quit
	exitCode = 128 + int(value.(syscall.Signal))

	ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	} else {
		logger.Info("server gracefully stopped")
	}
}
