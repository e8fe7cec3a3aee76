// Package ports declares the outbound interfaces of the scheduling engine.
package ports

import (
	"context"
	"ricorrenti/internal/core"
)

// Ports for outbound adapters.
type (
	ScheduleReader interface {
		// Get returns core.ErrNotFound when no schedule has the id.
		Get(ctx context.Context, id string) (core.ScheduledTransaction, error)
		// List returns matching schedules ordered by next execution date, then id.
		List(ctx context.Context, filter core.ScheduleFilter) ([]core.ScheduledTransaction, error)
	}

	ScheduleWriter interface {
		Create(ctx context.Context, s core.ScheduledTransaction) (core.ScheduledTransaction, error)
		// Update stores s if its Version matches the stored one and returns the
		// stored copy with the version incremented. A stale version fails with
		// core.ErrConflict.
		Update(ctx context.Context, s core.ScheduledTransaction) (core.ScheduledTransaction, error)
		Delete(ctx context.Context, id string) error
	}

	ScheduleStore interface {
		ScheduleReader
		ScheduleWriter
	}

	// TransactionRecorder persists materialized transactions. Recording the
	// same (schedule, date) twice returns the first record.
	TransactionRecorder interface {
		Record(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	}

	TransactionLister interface {
		ListBySchedule(ctx context.Context, scheduleID string) ([]core.Transaction, error)
	}

	TransactionStore interface {
		TransactionRecorder
		TransactionLister
	}

	// BalanceGateway is the account service. ApplyDelta must be atomic and
	// must treat a repeated idempotency key as an already applied success.
	BalanceGateway interface {
		Balance(ctx context.Context, accountID string) (core.Money, error)
		ApplyDelta(ctx context.Context, accountID string, delta core.Money, idempotencyKey string) error
	}

	// Notifier delivers engine events. Failures never roll back an execution.
	Notifier interface {
		Notify(ctx context.Context, e core.Event) error
	}

	// LedgerWriter appends a materialized transaction to an external ledger
	// and returns a reference to the written row.
	LedgerWriter interface {
		AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}

	// ExportQueue tracks transactions not yet written to the ledger.
	ExportQueue interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		PendingExports(ctx context.Context, limit int) ([]core.Transaction, error)
		MarkExported(ctx context.Context, id string, ledgerRef string) error
	}
)
