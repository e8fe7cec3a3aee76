// Package notify provides Notifier implementations that need no broker.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements ports.Notifier
func (n *LogNotifier) Notify(ctx context.Context, e core.Event) error {
	level := slog.LevelInfo
	if e.Type == core.EventInsufficientFunds || e.Type == core.EventExecutionFailed {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "Schedule event",
		"event_id", e.ID,
		"type", e.Type,
		"schedule_id", e.ScheduledTransactionID,
		"account_id", e.AccountID,
		"amount", e.Amount.String(),
		"date", e.Date.String(),
		"transaction_id", e.TransactionID,
		"error", e.Error)
	return nil
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []ports.Notifier

// Notify implements ports.Notifier
func (f Fanout) Notify(ctx context.Context, e core.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
