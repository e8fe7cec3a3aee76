package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"ricorrenti/internal/core"
)

// SaveAccount creates or replaces a local account balance.
func (r *SQLiteRepository) SaveAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (id, balance_cents, min_balance_cents) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET balance_cents = excluded.balance_cents, min_balance_cents = excluded.min_balance_cents`,
		a.ID, a.Balance.Cents(), a.Minimum.Cents())
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

// Balance implements ports.BalanceGateway
func (r *SQLiteRepository) Balance(ctx context.Context, accountID string) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `SELECT balance_cents FROM accounts WHERE id = ?`, accountID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, fmt.Errorf("account %s: %w", accountID, core.ErrAccountNotFound)
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get balance %s: %w", accountID, err)
	}
	return core.MoneyFromCents(cents), nil
}

// ApplyDelta implements ports.BalanceGateway. The balance change and the
// idempotency record are written in one database transaction; a debit that
// would take the balance under the account minimum changes nothing.
func (r *SQLiteRepository) ApplyDelta(ctx context.Context, accountID string, delta core.Money, key string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin balance transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT account_id FROM balance_movements WHERE idempotency_key = ?`, key).Scan(&existing)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "Balance movement already applied", "account_id", accountID, "key", key)
		return tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check balance movement %s: %w", key, err)
	}

	cents := delta.Cents()
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET balance_cents = balance_cents + ?
		WHERE id = ? AND (? >= 0 OR balance_cents + ? >= min_balance_cents)`,
		cents, accountID, cents, cents)
	if err != nil {
		return fmt.Errorf("apply delta to %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply delta to %s: %w", accountID, err)
	}
	if n == 0 {
		var one int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, accountID).Scan(&one); errors.Is(scanErr, sql.ErrNoRows) {
			err = fmt.Errorf("account %s: %w", accountID, core.ErrAccountNotFound)
			return err
		}
		err = fmt.Errorf("account %s delta %s: %w", accountID, delta, core.ErrInsufficientFunds)
		return err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO balance_movements (idempotency_key, account_id, delta_cents, created_at)
		VALUES (?, ?, ?, ?)`, key, accountID, cents, formatTimestamp(r.now())); err != nil {
		return fmt.Errorf("record balance movement %s: %w", key, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit balance transaction: %w", err)
	}
	return nil
}
