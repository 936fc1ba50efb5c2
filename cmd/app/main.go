package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"bidding-service/internal/config"
	"bidding-service/internal/events"
	"bidding-service/internal/expiry"
	"bidding-service/internal/http-server/router"
	"bidding-service/internal/lock"
	"bidding-service/internal/models"
	svc "bidding-service/internal/service"
	"bidding-service/internal/storage/postgres"
	"bidding-service/pkg/handlers/slogpretty"
	"bidding-service/pkg/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	bus := events.NewBus(log)

	var store svc.Store
	var storage *postgres.Storage
	if cfg.StoragePath != "" {
		var err error
		storage, err = postgres.New(cfg.StoragePath)
		if err != nil {
			log.Error("Failed to init storage", sl.Err(err))
			os.Exit(1)
		}

		if err := storage.Migrate(context.Background()); err != nil {
			log.Error("Failed to apply migrations", sl.Err(err))
			os.Exit(1)
		}

		store = storage
	} else {
		log.Warn("storage_path is empty, engine state lives in memory only")
	}

	var locker lock.Locker = lock.NewMemoryLock()
	var redisLock *lock.RedisLock
	if cfg.RedisAddr != "" {
		var err error
		redisLock, err = lock.NewRedisLock(cfg.RedisAddr)
		if err != nil {
			log.Error("Failed to init redis lock", sl.Err(err))
			os.Exit(1)
		}
		locker = redisLock

		forwarder := events.NewRedisForwarder(redisLock.Client(), cfg.EventsChannel)
		if err := bus.SubscribeAll(forwarder.Handle); err != nil {
			log.Error("Failed to subscribe event forwarder", sl.Err(err))
			os.Exit(1)
		}
	} else {
		log.Warn("redis_addr is empty, using in-process locks")
	}

	service, err := svc.New(log, locker, bus, store, svc.Settings{
		RequestTTL: cfg.RequestTTL,
		Lock: lock.Options{
			TTL:        cfg.LockTTL,
			Retries:    cfg.LockRetries,
			Backoff:    cfg.LockBackoff,
			MaxBackoff: cfg.LockMaxBackoff,
		},
		Defaults: models.InstructorSchedulingConfig{
			BufferTimeMinutes:    cfg.Engine.Defaults.BufferTimeMinutes,
			MaxSessionsPerDay:    cfg.Engine.Defaults.MaxSessionsPerDay,
			MaxGroupSize:         cfg.Engine.Defaults.MaxGroupSize,
			AutoConfirmBookings:  cfg.Engine.Defaults.AutoConfirmBookings,
			AllowUnderbid:        cfg.Engine.Defaults.AllowUnderbid,
			UnderbidFloorPercent: cfg.Engine.Defaults.UnderbidFloorPercent,
		},
	})
	if err != nil {
		log.Error("Failed to init service", sl.Err(err))
		os.Exit(1)
	}

	if err := service.Restore(context.Background()); err != nil {
		log.Error("Failed to restore engine state", sl.Err(err))
		os.Exit(1)
	}

	sweeper, err := expiry.New(log, cfg.SweepSchedule, service.Targets, expiry.WithTimeout(cfg.SweepTimeout))
	if err != nil {
		log.Error("Failed to init expiry scheduler", sl.Err(err))
		os.Exit(1)
	}
	sweeper.Start()

	serv := &http.Server{
		Addr: cfg.Address,
		Handler: router.New(log, service, router.Options{
			SubmitRatePerMinute: cfg.SubmitRatePerMinute,
		}),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	sweeper.Stop(ctx)

	if storage != nil {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close storage", sl.Err(err))
		} else {
			log.Info("Storage closed")
		}
	}

	if redisLock != nil {
		if err := redisLock.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	log.Info("Shutdown finished, server stopped")

}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
