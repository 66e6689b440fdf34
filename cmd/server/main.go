package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/sweeper"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "ride-dispatch")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := storage.RunMigrations(cfg.MigrationsPath, cfg.PGDSN); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "source", cfg.MigrationsPath)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
	} else {
		logger.Warn("PG_DSN not set; using the in-memory ride store")
		store = storage.NewMemoryStore()
	}

	reg := presence.NewRegistry(logger)
	hub := notify.NewHub()
	fanout := notify.NewFanout(hub, reg, logger)

	engine := dispatch.NewEngine(store, reg, fanout, dispatch.Config{
		MaxRetries:    cfg.DispatchRetries,
		Interval:      cfg.DispatchInterval,
		MatchRadiusKm: cfg.MatchRadiusKm,
	}, logger)

	var estimator lifecycle.FareEstimator = fare.Disabled{}
	if cfg.FareEndpoint != "" {
		estimator = fare.NewHTTPClient(cfg.FareEndpoint)
	}

	rides := lifecycle.NewController(store, reg, estimator, fanout, lifecycle.Config{
		MaxPassengers:       cfg.MaxPassengers,
		MaxAcceptDistanceKm: cfg.MaxAcceptDistanceKm,
	}, logger)
	rides.Dispatch = engine
	engine.Lifecycle = rides

	var locations *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		locations = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer locations.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	engine.SetBaseContext(ctx)

	// Re-enroll rides that were mid-search when the previous process died:
	// the retry state is rebuildable from the authoritative store.
	if searching, err := store.ListByStatus(ctx, models.StatusSearching); err != nil {
		logger.Warn("search re-enrollment scan failed", "error", err)
	} else {
		for _, r := range searching {
			engine.EnterSearch(r)
		}
		if len(searching) > 0 {
			logger.Info("re-enrolled searching rides", "count", len(searching))
		}
	}

	sw := sweeper.New(store, rides, sweeper.Config{
		Interval:        cfg.SweepInterval,
		SearchingMaxAge: cfg.SearchingMaxAge,
		ActiveMaxAge:    cfg.ActiveMaxAge,
		TimeoutMaxAge:   cfg.TimeoutMaxAge,
	}, logger)
	go sw.Run(ctx)

	api := httpapi.NewServer(logger, rides, engine, reg, fanout, store, locations)
	// Read/write timeouts are per-header and idle only: the websocket
	// endpoint holds connections open for a full shift.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
