package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"ricorrenti/internal/core"
)

const transactionColumns = `id, scheduled_transaction_id, account_id, category_id, amount_cents, type,
	description, payee, tags, date, created_at, ledger_ref`

// Record implements ports.TransactionRecorder. A second record for the same
// schedule and date is ignored and the first one returned.
func (r *SQLiteRepository) Record(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tags, err := encodeTags(tx.Tags)
	if err != nil {
		return core.Transaction{}, err
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (scheduled_transaction_id, date) DO NOTHING`,
		tx.ID, tx.ScheduledTransactionID, tx.AccountID, tx.CategoryID, tx.Amount.Cents(), string(tx.Type),
		tx.Description, tx.Payee, tags, tx.Date.String(), formatTimestamp(tx.CreatedAt))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		slog.InfoContext(ctx, "Transaction saved to SQLite",
			"id", tx.ID,
			"schedule_id", tx.ScheduledTransactionID,
			"amount", tx.Amount.String(),
			"date", tx.Date.String())
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE scheduled_transaction_id = ? AND date = ?`, tx.ScheduledTransactionID, tx.Date.String())
	stored, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load recorded transaction: %w", err)
	}
	return stored, nil
}

// ListBySchedule implements ports.TransactionLister
func (r *SQLiteRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE scheduled_transaction_id = ? ORDER BY date`, scheduleID)
}

// GetTransaction implements ports.ExportQueue
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// PendingExports implements ports.ExportQueue
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE exported_at IS NULL ORDER BY created_at, id LIMIT ?`, limit)
}

// MarkExported implements ports.ExportQueue
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string, ledgerRef string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET ledger_ref = ?, exported_at = ? WHERE id = ?`,
		ledgerRef, formatTimestamp(r.now()), id)
	if err != nil {
		return fmt.Errorf("mark transaction %s exported: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx          core.Transaction
		amountCents int64
		typ, tags   string
		date        string
		createdAt   string
		ledgerRef   sql.NullString
	)
	if err := row.Scan(&tx.ID, &tx.ScheduledTransactionID, &tx.AccountID, &tx.CategoryID, &amountCents, &typ,
		&tx.Description, &tx.Payee, &tags, &date, &createdAt, &ledgerRef); err != nil {
		return tx, err
	}
	tx.Amount = core.MoneyFromCents(amountCents)
	tx.Type = core.TransactionType(typ)
	tx.LedgerRef = ledgerRef.String

	var err error
	if tx.Tags, err = decodeTags(tags); err != nil {
		return tx, err
	}
	if tx.Date, err = core.ParseDate(date); err != nil {
		return tx, err
	}
	if tx.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return tx, err
	}
	return tx, nil
}
