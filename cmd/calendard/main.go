package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/api"
	"publish-calendar-backend/internal/calendar"
	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/db"
	"publish-calendar-backend/internal/logging"
	"publish-calendar-backend/internal/mongostore"
	"publish-calendar-backend/internal/mw"
	"publish-calendar-backend/internal/publisher"
	"publish-calendar-backend/internal/queue"
	"publish-calendar-backend/internal/scheduler"
	"publish-calendar-backend/internal/stats"
	"publish-calendar-backend/internal/store"
	"publish-calendar-backend/internal/timezone"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logger.Info("configuration loaded successfully", "path", configPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("calendard stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server gracefully stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("data store initialized", "driver", cfg.Database.Driver)

	clk := clock.Real{}
	tz := timezone.NewConverter()

	queueSvc := queue.NewService(appStore, appStore, clk, cfg.Reaper, logger)
	calendarSvc := calendar.NewService(appStore, queueSvc, tz, clk, logger)
	schedulerSvc := scheduler.NewService(cfg.Scheduler, appStore, appStore, tz, clk, logger)
	statsAgg := stats.NewAggregator(appStore, clk, logger)

	var webpushOptions *webpush.Options
	var pub publisher.Publisher = publisher.LogPublisher{Log: logger}
	if cfg.Push.Configured() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pub = publisher.NewWebPushPublisher(appStore, webpushOptions, logger)
	} else {
		logger.Warn("VAPID keys are not configured; occurrences are only logged")
	}

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	handler := api.NewHandler(api.Deps{
		Calendars:     calendarSvc,
		Queue:         queueSvc,
		Stats:         statsAgg,
		Subscriptions: appStore,
		Health:        appStore,
		WebPush:       webpushOptions,
		Cache:         mw.NewResponseCache(cache.New(ttl, 2*ttl), ttl),
		Log:           logger,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping services")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server Shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		schedulerSvc.Run(gctx)
		return nil
	})

	if cfg.Worker.Enabled {
		pool := publisher.NewWorkerPool(cfg.Worker, queueSvc, pub, logger)
		g.Go(func() error {
			pool.Run(gctx)
			return nil
		})
	} else {
		logger.Info("in-process workers are disabled; expecting external workers")
	}

	g.Go(func() error {
		queueSvc.RunReaper(gctx)
		return nil
	})

	return g.Wait()
}

// openStore connects the storage backend selected by the configuration.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Driver == config.DriverMongo {
		database, err := db.InitMongo(ctx, &cfg.Database.Mongo)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize mongo: %w", err)
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = database.Client().Disconnect(closeCtx)
		}
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			closeFn()
			return nil, nil, err
		}
		return mongostore.New(database), closeFn, nil
	}

	gormDB, err := db.Init(&cfg.Database, logging.GormLevel(cfg.Log.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return store.NewGormStore(gormDB), closeFn, nil
}
