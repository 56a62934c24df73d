package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/api"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/collaborators"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/config"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/booking"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/dispatch"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/reconcile"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting dispatch engine",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port))

	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bookingStore := storage.NewBookingStore(db)
	offerStore := storage.NewOfferStore(db)
	providerStore := storage.NewProviderStore(db)
	catalogStore := storage.NewCatalogStore(db)

	geocoder := collaborators.Geocoder(collaborators.NewNominatimGeocoder(logger))
	notifier := collaborators.NewLoggingNotifier(logger)

	selector := dispatch.NewCandidateSelector(providerStore, bookingStore, dispatch.SelectorConfig{
		EarthRadiusKM:                       cfg.Dispatch.EarthRadiusKM,
		MissingProviderCoordsAsZeroDistance: cfg.Dispatch.MissingProviderCoordsAsZeroDistance,
	}, logger)
	dispatcher := dispatch.NewOfferDispatcher(selector, bookingStore, offerStore, catalogStore, notifier,
		dispatch.DispatcherConfig{TopN: cfg.Dispatch.TopN, OfferTTL: cfg.Dispatch.OfferTTL}, logger)
	arbitration := dispatch.NewArbitrationEngine(offerStore, bookingStore, providerStore, logger)
	stateMachine := booking.New(bookingStore, offerStore, providerStore, logger)

	reconcileOpts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithSweepInterval(cfg.Reconcile.SweepInterval),
		reconcile.WithScheduledInterval(cfg.Reconcile.ScheduledInterval),
		reconcile.WithScheduledHorizon(cfg.Reconcile.ScheduledHorizon),
		reconcile.WithBatchSize(cfg.Reconcile.BatchSize),
	}
	reconciler := reconcile.New(offerStore, bookingStore, dispatcher, reconcileOpts...)

	server := api.New(bookingStore, providerStore, catalogStore, dispatcher, arbitration, stateMachine, geocoder,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port),
		api.WithReconciler(reconciler),
		api.WithAdminToken(cfg.Server.AdminToken))

	// Initialize gauges from database state before the startup sweep runs,
	// so they reflect reality before any reconciliation mutates status.
	statusCounts, err := bookingStore.CountByStatus(ctx)
	if err != nil {
		logger.Error("failed to query booking counts for metrics", slog.String("error", err.Error()))
	} else {
		counts := make([]metrics.BookingCount, 0, len(statusCounts))
		for status, count := range statusCounts {
			counts = append(counts, metrics.BookingCount{Status: status, Count: count})
		}
		if err := metrics.InitializeBookingMetrics(ctx, counts); err != nil {
			logger.Error("failed to initialize metrics", slog.String("error", err.Error()))
		}
	}

	if cfg.Reconcile.StartupSweepEnabled {
		logger.Info("running startup reconciliation sweep")
		startupCtx, cancel := context.WithTimeout(ctx, cfg.Reconcile.StartupSweepTimeout)
		reconciler.RunSweeps(startupCtx)
		cancel()
	} else {
		logger.Info("startup sweep disabled, skipping")
	}

	server.SetReady(true)

	if err := reconciler.Start(ctx); err != nil {
		logger.Error("failed to start reconciler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		server.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		reconciler.Stop()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
