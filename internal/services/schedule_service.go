package services

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"

	"github.com/google/uuid"
)

// ScheduleService manages the lifecycle of scheduled transactions.
type ScheduleService struct {
	schedules    ports.ScheduleStore
	transactions ports.TransactionLister
	locks        *KeyLock
	onChange     []func()
	newID        func() string
}

func NewScheduleService(schedules ports.ScheduleStore, transactions ports.TransactionLister, locks *KeyLock) *ScheduleService {
	if locks == nil {
		locks = NewKeyLock()
	}
	return &ScheduleService{
		schedules:    schedules,
		transactions: transactions,
		locks:        locks,
		newID:        uuid.NewString,
	}
}

// OnChange registers fn to be called after any successful write.
func (s *ScheduleService) OnChange(fn func()) {
	s.onChange = append(s.onChange, fn)
}

func (s *ScheduleService) List(ctx context.Context, f core.ScheduleFilter) ([]core.ScheduledTransaction, error) {
	items, err := s.schedules.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	if items == nil {
		items = []core.ScheduledTransaction{}
	}
	return items, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return s.schedules.Get(ctx, id)
}

// Create validates def and stores a new active schedule whose cursor is the
// first occurrence on or after the start date.
func (s *ScheduleService) Create(ctx context.Context, def core.ScheduleDefinition) (core.ScheduledTransaction, error) {
	r, err := def.Validate()
	if err != nil {
		return core.ScheduledTransaction{}, err
	}

	first := core.FirstOnOrAfter(r, def.StartDate)
	if !def.EndDate.IsEmpty() && first.After(def.EndDate) {
		return core.ScheduledTransaction{}, fmt.Errorf("%w: no occurrence between %s and %s",
			core.ErrInvalidDateRange, def.StartDate, def.EndDate)
	}

	st := core.ScheduledTransaction{
		ID:                s.newID(),
		Frequency:         def.Frequency,
		Anchor:            def.Anchor(),
		NextExecutionDate: first,
		Status:            core.StatusActive,
	}
	applyDefinition(&st, def)

	created, err := s.schedules.Create(ctx, st)
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("create schedule: %w", err)
	}
	s.changed()

	slog.InfoContext(ctx, "Schedule created",
		"id", created.ID,
		"account_id", created.AccountID,
		"frequency", created.Frequency,
		"next_execution_date", created.NextExecutionDate.String())
	return created, nil
}

// Update replaces the editable fields of a schedule. Timing edits move the
// cursor to the first occurrence after the last execution and on or after the
// start date. Editing the amount or the account clears the blocked flag.
func (s *ScheduleService) Update(ctx context.Context, id string, def core.ScheduleDefinition, asOf core.Date) (core.ScheduledTransaction, error) {
	r, err := def.Validate()
	if err != nil {
		return core.ScheduledTransaction{}, err
	}

	cur, unlock, err := lockSchedule(ctx, s.locks, s.schedules, id)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	defer unlock()

	if cur.Status.IsTerminal() {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", id, core.ErrScheduleClosed)
	}
	target := cur.Status
	if def.Status != "" {
		if err := core.ValidateTransition(cur.Status, def.Status); err != nil {
			return core.ScheduledTransaction{}, err
		}
		target = def.Status
	}

	anchor := def.Anchor()
	timingChanged := cur.Frequency != def.Frequency ||
		!anchorEqual(cur.Anchor, anchor) ||
		!cur.StartDate.Equal(def.StartDate)
	fundingChanged := cur.AccountID != def.AccountID || !cur.Amount.Equal(def.Amount.Decimal)

	u := cur.Clone()
	applyDefinition(&u, def)
	u.Frequency = def.Frequency
	u.Anchor = anchor
	u.Status = target

	if timingChanged {
		from := def.StartDate
		if !cur.LastExecutionDate.IsEmpty() && !cur.LastExecutionDate.Before(from) {
			from = cur.LastExecutionDate.AddDays(1)
		}
		u.NextExecutionDate = core.FirstOnOrAfter(r, from)
	}
	if target == core.StatusActive && cur.Status == core.StatusPaused {
		u.NextExecutionDate = resumeCursor(r, u.NextExecutionDate, asOf)
	}
	if fundingChanged {
		u.InsufficientFunds = false
		u.BlockedSince = core.Date{}
	}

	if !u.EndDate.IsEmpty() && u.NextExecutionDate.After(u.EndDate) {
		if cur.LastExecutionDate.IsEmpty() || cur.LastExecutionDate.After(u.EndDate) {
			return core.ScheduledTransaction{}, fmt.Errorf("%w: end date %s is before the next execution %s",
				core.ErrInvalidDateRange, u.EndDate, u.NextExecutionDate)
		}
		u.NextExecutionDate = cur.LastExecutionDate
		u.Status = core.StatusCompleted
	}

	updated, err := s.schedules.Update(ctx, u)
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("update schedule: %w", err)
	}
	s.changed()

	slog.InfoContext(ctx, "Schedule updated",
		"id", id,
		"status", updated.Status,
		"timing_changed", timingChanged,
		"next_execution_date", updated.NextExecutionDate.String())
	return updated, nil
}

// Delete removes the schedule. Materialized transactions are kept.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	_, unlock, err := lockSchedule(ctx, s.locks, s.schedules, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.schedules.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.changed()
	slog.InfoContext(ctx, "Schedule deleted", "id", id)
	return nil
}

func (s *ScheduleService) Pause(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return s.transition(ctx, id, core.StatusPaused, core.Date{})
}

// Resume reactivates a paused schedule. Occurrences missed while paused are
// skipped: a cursor before asOf moves to the first occurrence on or after it.
func (s *ScheduleService) Resume(ctx context.Context, id string, asOf core.Date) (core.ScheduledTransaction, error) {
	return s.transition(ctx, id, core.StatusActive, asOf)
}

func (s *ScheduleService) Cancel(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return s.transition(ctx, id, core.StatusCancelled, core.Date{})
}

// ListTransactions returns the transactions materialized by a schedule,
// oldest first.
func (s *ScheduleService) ListTransactions(ctx context.Context, id string) ([]core.Transaction, error) {
	txs, err := s.transactions.ListBySchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", id, err)
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	return txs, nil
}

func (s *ScheduleService) transition(ctx context.Context, id string, to core.Status, asOf core.Date) (core.ScheduledTransaction, error) {
	cur, unlock, err := lockSchedule(ctx, s.locks, s.schedules, id)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	defer unlock()

	if err := core.ValidateTransition(cur.Status, to); err != nil {
		return core.ScheduledTransaction{}, err
	}
	if cur.Status == to {
		return cur, nil
	}

	u := cur.Clone()
	u.Status = to
	if to == core.StatusActive {
		r, err := u.Recurrence()
		if err != nil {
			return core.ScheduledTransaction{}, err
		}
		next := resumeCursor(r, u.NextExecutionDate, asOf)
		if !u.EndDate.IsEmpty() && next.After(u.EndDate) {
			u.Status = core.StatusCompleted
		} else {
			u.NextExecutionDate = next
		}
	}

	updated, err := s.schedules.Update(ctx, u)
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("update schedule status: %w", err)
	}
	s.changed()

	slog.InfoContext(ctx, "Schedule status changed",
		"id", id,
		"from", cur.Status,
		"to", updated.Status)
	return updated, nil
}

func (s *ScheduleService) changed() {
	for _, fn := range s.onChange {
		fn()
	}
}

// resumeCursor moves a cursor that fell behind asOf to the first occurrence
// on or after asOf.
func resumeCursor(r core.Recurrence, cursor, asOf core.Date) core.Date {
	if asOf.IsEmpty() || !cursor.Before(asOf) {
		return cursor
	}
	return core.FirstOnOrAfter(r, asOf)
}

func applyDefinition(st *core.ScheduledTransaction, def core.ScheduleDefinition) {
	st.AccountID = def.AccountID
	st.CategoryID = def.CategoryID
	st.Amount = def.Amount
	st.Type = def.Type
	st.Description = def.Description
	st.Payee = def.Payee
	st.Tags = core.NormalizeTags(def.Tags)
	st.StartDate = def.StartDate
	st.EndDate = def.EndDate
	st.AutoExecute = def.AutoExecute
}

func anchorEqual(a, b core.Anchor) bool {
	return intEqual(a.DayOfWeek, b.DayOfWeek) &&
		intEqual(a.DayOfMonth, b.DayOfMonth) &&
		intEqual(a.MonthOfYear, b.MonthOfYear)
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
