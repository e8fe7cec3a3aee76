package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ricorrenti/internal/cache"
	"ricorrenti/internal/cli"
	apphttp "ricorrenti/internal/http"
	"ricorrenti/internal/log"
	"ricorrenti/internal/notify"
	"ricorrenti/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	result := cli.InitBackend(context.Background(), logger, cfg)
	defer result.Close()
	store := result.Backend

	// Manual confirmations run in this process; the shared lock keeps them
	// serialized with edits to the same schedule.
	locks := services.NewKeyLock()
	schedules := services.NewScheduleService(store.Schedules, store.Transactions, locks)
	engine := services.NewEngine(services.EngineConfig{
		Workers:        cfg.RecurringWorkers,
		GatewayTimeout: cfg.GatewayTimeout,
		MaxCatchUp:     cfg.RecurringMaxCatchUp,
	}, store.Schedules, store.Transactions, store.Balances,
		notify.NewLogNotifier(logger.WithComponent(log.ComponentEngine).Logger), locks)

	upcoming := services.NewUpcomingQuery(store.Schedules, cfg.UpcomingCacheTTL)
	schedules.OnChange(upcoming.Invalidate)
	engine.OnChange(upcoming.Invalidate)

	var cacheManager *cache.Manager
	if c := upcoming.Cache(); c != nil {
		cacheManager = cache.NewManager()
		cacheManager.Register(c)
		cacheManager.StartCleanup(cfg.UpcomingCacheTTL)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Schedules:          schedules,
		Executor:           engine,
		Upcoming:           upcoming,
		Ready:              store.Ready,
		CacheStats:         upcoming.CacheStats,
		Logger:             logger.WithComponent(log.ComponentHTTP),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		HorizonDays:        cfg.UpcomingHorizonDays,
	})

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if cacheManager != nil {
			cacheManager.Stop()
		}
	})

	logger.Info("Starting ricorrenti server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"horizon_days", cfg.UpcomingHorizonDays)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = result.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
