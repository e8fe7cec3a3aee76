// Package worker exports materialized transactions to the external ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"
)

// LedgerWorker appends executed transactions to the ledger, once each.
type LedgerWorker struct {
	queue     ports.ExportQueue
	ledger    ports.LedgerWriter
	batchSize int
}

func NewLedgerWorker(queue ports.ExportQueue, ledger ports.LedgerWriter, batchSize int) *LedgerWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &LedgerWorker{
		queue:     queue,
		ledger:    ledger,
		batchSize: batchSize,
	}
}

// HandleEvent exports the transaction of an executed event. Other event
// types are acknowledged without work.
func (w *LedgerWorker) HandleEvent(ctx context.Context, msg *amqp.EventMessage) error {
	if msg.Type != core.EventExecuted || msg.TransactionID == "" {
		slog.DebugContext(ctx, "Ignoring event", "type", msg.Type, "id", msg.ID)
		return nil
	}

	slog.InfoContext(ctx, "Processing executed event",
		"id", msg.ID,
		"transaction_id", msg.TransactionID,
		"scheduled_transaction_id", msg.ScheduledTransactionID)

	tx, err := w.queue.GetTransaction(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}
	if tx.LedgerRef != "" {
		slog.InfoContext(ctx, "Transaction already exported",
			"transaction_id", tx.ID,
			"ledger_ref", tx.LedgerRef)
		return nil
	}

	if err := w.export(ctx, tx); err != nil {
		return fmt.Errorf("export transaction: %w", err)
	}
	return nil
}

// ProcessPendingExports exports transactions that were never exported.
// This is a backup for lost or failed messages.
func (w *LedgerWorker) ProcessPendingExports(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupExportCheck runs a larger pending batch when the worker starts.
func (w *LedgerWorker) StartupExportCheck(ctx context.Context) error {
	n, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup export check: %w", err)
	}
	if n == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
	}
	return nil
}

func (w *LedgerWorker) processPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.queue.PendingExports(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	exported, failed := 0, 0
	for _, tx := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := w.export(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction", "transaction_id", tx.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Pending export pass complete",
		"total", len(pending),
		"exported", exported,
		"errors", failed)
	return exported, nil
}

func (w *LedgerWorker) export(ctx context.Context, tx core.Transaction) error {
	ref, err := w.ledger.AppendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.queue.MarkExported(ctx, tx.ID, ref); err != nil {
		// The row is in the ledger; a later pass would append it again.
		slog.ErrorContext(ctx, "Failed to mark transaction as exported",
			"transaction_id", tx.ID,
			"ledger_ref", ref,
			"error", err)
		return fmt.Errorf("mark exported: %w", err)
	}

	slog.InfoContext(ctx, "Exported transaction to ledger",
		"transaction_id", tx.ID,
		"scheduled_transaction_id", tx.ScheduledTransactionID,
		"ledger_ref", ref,
		"amount", tx.Amount.String())
	return nil
}
