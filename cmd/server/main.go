package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marbeck/plansync/internal"
	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/events"
	"github.com/marbeck/plansync/internal/handler"
	"github.com/marbeck/plansync/internal/handler/api"
	"github.com/marbeck/plansync/internal/handler/webhook"
	"github.com/marbeck/plansync/internal/middleware"
	"github.com/marbeck/plansync/internal/plan"
	"github.com/marbeck/plansync/internal/postgres"
	"github.com/marbeck/plansync/internal/service"
	"github.com/marbeck/plansync/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info().Msg("connecting to database")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	logger.Info().Msg("running database migrations")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Initialize pgx connection pool for the application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewSubscriberStore(pool)

	// Initialize Stripe billing provider
	billingProvider, err := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info().Msg("Stripe billing provider initialized")

	// Optional NATS publisher for downstream consumers
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsPub.Close()
		publisher = natsPub
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS publisher initialized")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := telemetry.NewMetrics("plansync", registry)
	httpMetrics := middleware.NewMetrics("plansync", registry)

	// Core services
	machine := service.NewStateMachine(plan.NewResolver(cfg.Plans))
	reconciler := service.NewReconciler(store, machine, billingProvider, publisher, pipelineMetrics, logger)
	subscriptions := service.NewSubscriptionService(store, billingProvider, reconciler, pipelineMetrics, logger)

	// Handlers
	stripeWebhook := webhook.NewStripeHandler(billingProvider, reconciler, pipelineMetrics, logger)
	subscriptionAPI := api.NewSubscriptionHandler(subscriptions, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.RequestLogger(logger))

	e.POST("/webhooks/billing", stripeWebhook.HandleWebhook)
	e.POST("/subscriptions/cancel", subscriptionAPI.Cancel)
	e.GET("/subscriptions/:userId", subscriptionAPI.Get)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
