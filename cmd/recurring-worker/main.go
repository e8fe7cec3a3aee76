package main

import (
	"context"
	"time"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/cli"
	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
	"ricorrenti/internal/notify"
	"ricorrenti/internal/ports"
	"ricorrenti/internal/services"
	"ricorrenti/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentEngine)
	logger.Info("Starting recurring-worker")

	result := cli.InitBackend(context.Background(), logger, cfg)
	defer result.Close()
	store := result.Backend

	// Events always go to the log; with AMQP they also reach the ledger worker.
	notifiers := notify.Fanout{notify.NewLogNotifier(logger.Logger)}
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
		} else {
			defer amqpClient.Close()
			notifiers = append(notifiers, amqpClient)
			logger.Info("AMQP client initialized - executed transactions will reach the ledger worker")
		}
	} else {
		logger.Info("AMQP disabled - events are only logged")
	}

	engine := services.NewEngine(services.EngineConfig{
		Workers:        cfg.RecurringWorkers,
		GatewayTimeout: cfg.GatewayTimeout,
		MaxCatchUp:     cfg.RecurringMaxCatchUp,
	}, store.Schedules, store.Transactions, store.Balances, ports.Notifier(notifiers), nil)

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringProcessorInterval,
		"workers", cfg.RecurringWorkers,
		"max_catch_up", cfg.RecurringMaxCatchUp,
		"backend", cfg.DataBackend)

	processor := worker.NewProcessor(func(ctx context.Context) error {
		report, err := engine.RunDueSchedules(ctx, core.DateOf(time.Now()))
		if err != nil {
			return err
		}
		if len(report.ManualDue) > 0 {
			logger.InfoContext(ctx, "Schedules awaiting manual confirmation",
				"count", len(report.ManualDue),
				"ids", report.ManualDue)
		}
		return nil
	}, worker.ProcessorConfig{
		Name:         "recurring-processor",
		PollInterval: cfg.RecurringProcessorInterval,
		RunOnStart:   true,
	})

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		logger.Info("Shutting down recurring-worker...")
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Processor shutdown error", "error", err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start processor", "error", err)
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
