package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/cli"
	"ricorrenti/internal/log"
	gsheet "ricorrenti/internal/sheets/google"
	"ricorrenti/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentLedger)
	logger.Info("Starting ledger-worker")

	if err := cfg.ValidateLedgerExport(); err != nil {
		logger.Error("Ledger export configuration invalid", "error", err)
		os.Exit(1)
	}

	result := cli.InitBackend(context.Background(), logger, cfg)
	defer result.Close()
	if result.Backend.Exports == nil {
		logger.Error("Backend cannot track ledger exports", "backend", cfg.DataBackend)
		_ = result.Close()
		os.Exit(1)
	}

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		_ = result.Close()
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		_ = result.Close()
		os.Exit(1)
	}
	defer amqpClient.Close()

	ledger := worker.NewLedgerWorker(result.Backend.Exports, sheetsClient, cfg.LedgerExportBatchSize)

	// Periodic sweep for transactions whose event was lost.
	sweeper := worker.NewProcessor(func(ctx context.Context) error {
		_, err := ledger.ProcessPendingExports(ctx)
		return err
	}, worker.ProcessorConfig{
		Name:         "ledger-export",
		PollInterval: cfg.LedgerExportInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		logger.Info("Shutting down ledger-worker...")
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Error("Export sweeper shutdown error", "error", err)
		}
	})

	logger.Info("Performing startup export check...")
	if err := ledger.StartupExportCheck(ctx); err != nil {
		// Not fatal: the sweeper retries on its next tick.
		logger.Error("Startup export check failed", "error", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start export sweeper", "error", err)
		return
	}

	go func() {
		if err := amqpClient.ConsumeWithRetry(ctx, ledger.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", "error", err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Ledger-worker shutdown complete")
}
