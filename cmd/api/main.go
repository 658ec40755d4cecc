package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openhealthlabs/stockflow-backend/api/routes"
	"github.com/openhealthlabs/stockflow-backend/internal/approval"
	"github.com/openhealthlabs/stockflow-backend/internal/availability"
	"github.com/openhealthlabs/stockflow-backend/internal/catalog"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	"github.com/openhealthlabs/stockflow-backend/internal/dispatch"
	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/notify"
	"github.com/openhealthlabs/stockflow-backend/internal/receipt"
	"github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
	"github.com/openhealthlabs/stockflow-backend/pkg/metrics"
	"github.com/openhealthlabs/stockflow-backend/pkg/migrate"
	"github.com/openhealthlabs/stockflow-backend/pkg/pubsub"
	"github.com/openhealthlabs/stockflow-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var notifier notify.Notifier = notify.NewLogNotifier(logg)
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		notifier = notify.NewPubSubNotifier(psClient.FulfillmentPublisher(), logg)
	}

	registry := prometheus.NewRegistry()
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(registry)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	requestRepo := requests.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	facilityDirectory := directory.New(dbClient.DB())

	availabilityService, err := availability.NewService(
		requestRepo, ledgerService, redisClient, cfg.Fulfillment.AvailabilityTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create availability service", err)
		os.Exit(1)
	}

	requestService, err := requests.NewService(
		dbClient, requestRepo, catalogRepo, facilityDirectory, availabilityService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create request service", err)
		os.Exit(1)
	}

	dispatchService, err := dispatch.NewService(
		dbClient, requestRepo, ledgerService, cfg.Fulfillment,
		notifier, availabilityService, fulfillmentMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatch service", err)
		os.Exit(1)
	}

	approvalService, err := approval.NewService(
		dbClient, requestRepo, ledgerService, dispatchService,
		notifier, availabilityService, fulfillmentMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create approval service", err)
		os.Exit(1)
	}

	receiptService, err := receipt.NewService(
		dbClient, requestRepo, ledgerService,
		notifier, availabilityService, fulfillmentMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create receipt service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, dbClient, redisClient, registry,
			directory.RolePolicy{},
			requestService, approvalService, dispatchService,
			receiptService, availabilityService, ledgerService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
