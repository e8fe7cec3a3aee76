package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ricorrenti/internal/core"
)

const scheduleColumns = `id, account_id, category_id, amount_cents, type, description, payee, tags,
	frequency, day_of_week, day_of_month, month_of_year, start_date, end_date,
	next_execution_date, last_execution_date, auto_execute, status,
	insufficient_funds, blocked_since, version, created_at, updated_at`

// Create implements ports.ScheduleWriter
func (r *SQLiteRepository) Create(ctx context.Context, s core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	tags, err := encodeTags(s.Tags)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	now := r.now().UTC()
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = now, now

	_, err = r.db.ExecContext(ctx, `INSERT INTO scheduled_transactions (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.CategoryID, s.Amount.Cents(), string(s.Type), s.Description, s.Payee, tags,
		string(s.Frequency), nullInt(s.DayOfWeek), nullInt(s.DayOfMonth), nullInt(s.MonthOfYear),
		s.StartDate.String(), nullDate(s.EndDate), s.NextExecutionDate.String(), nullDate(s.LastExecutionDate),
		boolToInt(s.AutoExecute), string(s.Status), boolToInt(s.InsufficientFunds), nullDate(s.BlockedSince),
		s.Version, formatTimestamp(s.CreatedAt), formatTimestamp(s.UpdatedAt))
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("create schedule: %w", err)
	}

	slog.InfoContext(ctx, "Schedule saved to SQLite",
		"id", s.ID,
		"account_id", s.AccountID,
		"frequency", s.Frequency,
		"next_execution_date", s.NextExecutionDate.String())

	return s, nil
}

// Get implements ports.ScheduleReader
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transactions WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return s, nil
}

// List implements ports.ScheduleReader
func (r *SQLiteRepository) List(ctx context.Context, f core.ScheduleFilter) ([]core.ScheduledTransaction, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if f.Frequency != "" {
		where, args = append(where, "frequency = ?"), append(args, string(f.Frequency))
	}
	if f.AccountID != "" {
		where, args = append(where, "account_id = ?"), append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		where, args = append(where, "category_id = ?"), append(args, f.CategoryID)
	}
	if !f.NextFrom.IsEmpty() {
		where, args = append(where, "next_execution_date >= ?"), append(args, f.NextFrom.String())
	}
	if !f.NextTo.IsEmpty() {
		where, args = append(where, "next_execution_date <= ?"), append(args, f.NextTo.String())
	}
	if f.InsufficientFunds != nil {
		where, args = append(where, "insufficient_funds = ?"), append(args, boolToInt(*f.InsufficientFunds))
	}

	query := `SELECT ` + scheduleColumns + ` FROM scheduled_transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY next_execution_date, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []core.ScheduledTransaction
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// Update implements ports.ScheduleWriter
func (r *SQLiteRepository) Update(ctx context.Context, s core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	tags, err := encodeTags(s.Tags)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	s.UpdatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx, `UPDATE scheduled_transactions SET
		account_id = ?, category_id = ?, amount_cents = ?, type = ?, description = ?, payee = ?, tags = ?,
		frequency = ?, day_of_week = ?, day_of_month = ?, month_of_year = ?, start_date = ?, end_date = ?,
		next_execution_date = ?, last_execution_date = ?, auto_execute = ?, status = ?,
		insufficient_funds = ?, blocked_since = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		s.AccountID, s.CategoryID, s.Amount.Cents(), string(s.Type), s.Description, s.Payee, tags,
		string(s.Frequency), nullInt(s.DayOfWeek), nullInt(s.DayOfMonth), nullInt(s.MonthOfYear),
		s.StartDate.String(), nullDate(s.EndDate), s.NextExecutionDate.String(), nullDate(s.LastExecutionDate),
		boolToInt(s.AutoExecute), string(s.Status), boolToInt(s.InsufficientFunds), nullDate(s.BlockedSince),
		formatTimestamp(s.UpdatedAt), s.ID, s.Version)
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("update schedule %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("update schedule %s: %w", s.ID, err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, s.ID); err != nil {
			return core.ScheduledTransaction{}, err
		}
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s version %d: %w", s.ID, s.Version, core.ErrConflict)
	}
	s.Version++
	return s, nil
}

// Delete implements ports.ScheduleWriter
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Schedule deleted from SQLite", "id", id)
	return nil
}

func scanSchedule(row rowScanner) (core.ScheduledTransaction, error) {
	var (
		s                         core.ScheduledTransaction
		amountCents               int64
		typ, freq, status         string
		tags                      string
		dow, dom, moy             sql.NullInt64
		start, next               string
		end, last, blocked        sql.NullString
		autoExecute, insufficient int64
		createdAt, updatedAt      string
	)
	if err := row.Scan(&s.ID, &s.AccountID, &s.CategoryID, &amountCents, &typ, &s.Description, &s.Payee, &tags,
		&freq, &dow, &dom, &moy, &start, &end, &next, &last, &autoExecute, &status,
		&insufficient, &blocked, &s.Version, &createdAt, &updatedAt); err != nil {
		return s, err
	}

	s.Amount = core.MoneyFromCents(amountCents)
	s.Type = core.TransactionType(typ)
	s.Frequency = core.Frequency(freq)
	s.Status = core.Status(status)
	s.AutoExecute = autoExecute != 0
	s.InsufficientFunds = insufficient != 0
	s.Anchor = core.Anchor{DayOfWeek: intPtr(dow), DayOfMonth: intPtr(dom), MonthOfYear: intPtr(moy)}

	var err error
	if s.Tags, err = decodeTags(tags); err != nil {
		return s, err
	}
	if s.StartDate, err = core.ParseDate(start); err != nil {
		return s, err
	}
	if s.NextExecutionDate, err = core.ParseDate(next); err != nil {
		return s, err
	}
	if s.EndDate, err = parseNullDate(end); err != nil {
		return s, err
	}
	if s.LastExecutionDate, err = parseNullDate(last); err != nil {
		return s, err
	}
	if s.BlockedSince, err = parseNullDate(blocked); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return s, err
	}
	return s, nil
}
