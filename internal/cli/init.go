// Package cli holds the startup and shutdown steps shared by the ricorrenti
// server and its two workers.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"ricorrenti/internal/backend"
	"ricorrenti/internal/config"
	"ricorrenti/internal/log"
)

// SetupLogger builds the component logger and installs it as the slog default.
func SetupLogger(component, level string) *log.Logger {
	logger := log.New(log.ConfigFor(component, level))
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile reads .env when present. Deployments set the environment
// directly, so a missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads the environment and config and sets up logging for
// component. An invalid config ends the process.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(component, cfg.LogLevel)
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warn("Falling back to info logging", "error", err)
	}
	return LoadAndValidateConfig(logger, cfg), logger
}

// LoadAndValidateConfig validates cfg, loading it first when nil, and exits
// on failure.
func LoadAndValidateConfig(logger *log.Logger, cfg *config.Config) *config.Config {
	if cfg == nil {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		fatal(logger, "Configuration validation failed", "error", err)
	}
	return cfg
}

// InitBackend opens the configured storage backend or exits.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		fatal(logger, "Invalid backend configuration", "error", err, "backend", cfg.DataBackend)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		fatal(logger, "Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
	}
	logger.Info("Backend initialized", "backend", cfg.DataBackend)
	return result
}

func fatal(logger *log.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with a context bounded by timeout and done is
// closed when it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", "timeout", timeout)
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until the signal arrived and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
