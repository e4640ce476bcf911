package main

import (
	"context"
	"fmt"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/api"
	"github.com/lumenhabits/pulse/internal/config"
	"github.com/lumenhabits/pulse/internal/content"
	"github.com/lumenhabits/pulse/internal/db"
	"github.com/lumenhabits/pulse/internal/delivery"
	"github.com/lumenhabits/pulse/internal/lease"
	"github.com/lumenhabits/pulse/internal/metrics"
	"github.com/lumenhabits/pulse/internal/observ"
	"github.com/lumenhabits/pulse/internal/policy"
	"github.com/lumenhabits/pulse/internal/schedule"
	"github.com/lumenhabits/pulse/internal/scheduler"
	"github.com/lumenhabits/pulse/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pulse agent",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("instance_kind", cfg.InstanceKind),
		zap.String("host_mode", cfg.HostMode),
	)

	ctx := context.Background()

	// Shared durable store: firing history, handler lease, retry counters,
	// permission cache.
	storeClient, err := store.New(ctx, store.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to shared store: %w", err)
	}
	defer storeClient.Close()

	history := store.NewHistory(storeClient, observ.Component(logger, "history"))
	leaseStore := store.NewLease(storeClient, observ.Component(logger, "lease"))
	state := store.NewState(storeClient, observ.Component(logger, "state"))

	// Firing-record audit database. Optional: the agent schedules and
	// delivers without it, losing only stats and long-term records.
	var audit scheduler.AuditRepo
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("audit database unavailable, stats disabled", zap.Error(err))
	} else {
		defer database.Close()
		audit = db.NewRepository(database, observ.Component(logger, "audit"))
		logger.Info("audit database connected",
			zap.String("host", cfg.DBHost),
			zap.String("database", cfg.DBName),
		)
	}

	arbiter := lease.New(lease.InstanceKind(cfg.InstanceKind), leaseStore, observ.Component(logger, "arbiter"))

	// Delivery channels in fallback order: background queue first, host
	// bridge second.
	var channels []delivery.Channel
	if cfg.QueueURL != "" {
		queue, err := delivery.NewQueueChannel(ctx, delivery.QueueConfig{
			Region:   cfg.QueueRegion,
			QueueURL: cfg.QueueURL,
		}, observ.Component(logger, "queue"))
		if err != nil {
			logger.Warn("background queue unavailable", zap.Error(err))
		} else {
			channels = append(channels, queue)
		}
	}

	bridge := delivery.NewBridgeChannel(delivery.BridgeConfig{
		BaseURL: cfg.BridgeURL,
		Timeout: time.Duration(cfg.BridgeTimeout) * time.Second,
	}, observ.Component(logger, "bridge"))
	channels = append(channels, bridge)

	svc := delivery.NewService(delivery.HostMode(cfg.HostMode), channels, bridge, state, observ.Component(logger, "delivery"))

	sched := scheduler.New(scheduler.Deps{
		Resolver:  schedule.NewResolver(schedule.SystemClock{}, observ.Component(logger, "resolver")),
		Arbiter:   arbiter,
		History:   history,
		State:     state,
		Generator: content.NewGenerator(mrand.NewSource(time.Now().UnixNano()), observ.Component(logger, "content")),
		Delivery:  svc,
		Audit:     audit,
		Quiet:     policy.Window{Start: cfg.QuietHoursStart, End: cfg.QuietHoursEnd},
		Logger:    observ.Component(logger, "scheduler"),
	})
	defer sched.CancelAll()

	pruner := scheduler.NewPruner(history, audit, schedule.SystemClock{}, observ.Component(logger, "pruner"))

	prunerCtx, prunerCancel := context.WithCancel(context.Background())
	defer prunerCancel()
	go pruner.Start(prunerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(observ.Component(logger, "api"), sched, arbiter)
	handler.Routes(r)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// An installed instance hands the lease back so a browser instance
		// can take over without waiting out the staleness window.
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := arbiter.Release(releaseCtx); err != nil {
			logger.Warn("lease release on shutdown failed", zap.Error(err))
		}
		releaseCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
