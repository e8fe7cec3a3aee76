// Package services holds the scheduling engine and the operations exposed to
// the API: schedule management, execution and the upcoming view.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers        = 4
	DefaultGatewayTimeout = 5 * time.Second
	DefaultMaxCatchUp     = 12
)

// EngineConfig tunes the execution engine. Zero values fall back to defaults.
type EngineConfig struct {
	// Workers bounds the number of accounts processed in parallel.
	Workers int
	// GatewayTimeout bounds every call to the balance gateway.
	GatewayTimeout time.Duration
	// MaxCatchUp bounds the occurrences executed per schedule in one run.
	MaxCatchUp int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = DefaultGatewayTimeout
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = DefaultMaxCatchUp
	}
	return c
}

// Engine executes due schedules against the balance gateway.
type Engine struct {
	cfg          EngineConfig
	schedules    ports.ScheduleStore
	transactions ports.TransactionRecorder
	gateway      ports.BalanceGateway
	notifier     ports.Notifier
	locks        *KeyLock
	onChange     []func()

	newID func() string
	now   func() time.Time
}

// NewEngine wires the engine. notifier may be nil. locks must be shared with
// every other writer of the same schedules.
func NewEngine(cfg EngineConfig, schedules ports.ScheduleStore, transactions ports.TransactionRecorder,
	gateway ports.BalanceGateway, notifier ports.Notifier, locks *KeyLock) *Engine {
	if locks == nil {
		locks = NewKeyLock()
	}
	return &Engine{
		cfg:          cfg.withDefaults(),
		schedules:    schedules,
		transactions: transactions,
		gateway:      gateway,
		notifier:     notifier,
		locks:        locks,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// OnChange registers fn to be called after the engine modifies a schedule.
func (e *Engine) OnChange(fn func()) {
	e.onChange = append(e.onChange, fn)
}

// RunDueSchedules executes every active schedule due on or before asOf.
// Failures are isolated per schedule and reported in the returned report;
// only listing failures and cancellation are returned as errors.
func (e *Engine) RunDueSchedules(ctx context.Context, asOf core.Date) (core.RunReport, error) {
	report := core.RunReport{AsOf: asOf, Attempts: []core.ExecutionAttempt{}, ManualDue: []string{}}

	due, err := e.schedules.List(ctx, core.ScheduleFilter{Status: core.StatusActive, NextTo: asOf})
	if err != nil {
		return report, fmt.Errorf("list due schedules: %w", err)
	}

	slog.InfoContext(ctx, "Processing due schedules",
		"due", len(due),
		"as_of", asOf.String(),
		"workers", e.cfg.Workers)

	// Partition by account. Schedule indices keep the global due order.
	var order []string
	partitions := make(map[string][]int)
	for i, s := range due {
		if _, ok := partitions[s.AccountID]; !ok {
			order = append(order, s.AccountID)
		}
		partitions[s.AccountID] = append(partitions[s.AccountID], i)
	}

	attempts := make([][]core.ExecutionAttempt, len(due))
	manual := make([]bool, len(due))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, account := range order {
		indices := partitions[account]
		g.Go(func() error {
			for _, i := range indices {
				if ctx.Err() != nil {
					return nil
				}
				attempts[i], manual[i] = e.runSchedule(ctx, due[i], asOf)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range due {
		report.Attempts = append(report.Attempts, attempts[i]...)
		if manual[i] {
			report.ManualDue = append(report.ManualDue, due[i].ID)
		}
	}

	slog.InfoContext(ctx, "Due schedule processing complete",
		"as_of", asOf.String(),
		"executed", report.Count(core.OutcomeExecuted),
		"insufficient_funds", report.Count(core.OutcomeInsufficientFunds),
		"skipped", report.Count(core.OutcomeSkipped),
		"failed", report.Count(core.OutcomeFailed))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}
	return report, nil
}

// ConfirmExecution executes the current occurrence of an active schedule,
// whether or not it is already due and whatever its autoExecute setting.
func (e *Engine) ConfirmExecution(ctx context.Context, id string, asOf core.Date) (core.ExecutionAttempt, error) {
	s, unlock, err := lockSchedule(ctx, e.locks, e.schedules, id)
	if err != nil {
		return core.ExecutionAttempt{}, err
	}
	defer unlock()

	if s.Status != core.StatusActive {
		return core.ExecutionAttempt{}, fmt.Errorf("schedule %s is %s: %w", id, s.Status, core.ErrScheduleNotActive)
	}

	attempt, _, err := e.executeOccurrence(ctx, s, asOf)
	return attempt, err
}

// runSchedule executes the occurrences of one schedule that are due on asOf,
// catching up at most MaxCatchUp of them.
func (e *Engine) runSchedule(ctx context.Context, listed core.ScheduledTransaction, asOf core.Date) ([]core.ExecutionAttempt, bool) {
	var attempts []core.ExecutionAttempt
	for n := 0; n < e.cfg.MaxCatchUp; n++ {
		if ctx.Err() != nil {
			return attempts, false
		}

		s, unlock, err := lockSchedule(ctx, e.locks, e.schedules, listed.ID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) || ctx.Err() != nil {
				return attempts, false
			}
			slog.ErrorContext(ctx, "Failed to load schedule",
				"id", listed.ID,
				"error", err)
			return append(attempts, core.ExecutionAttempt{
				ScheduledTransactionID: listed.ID,
				AttemptedDate:          listed.NextExecutionDate,
				Outcome:                core.OutcomeFailed,
				Error:                  err.Error(),
			}), false
		}

		if !s.IsDue(asOf) {
			unlock()
			return attempts, false
		}

		if !s.AutoExecute {
			unlock()
			slog.InfoContext(ctx, "Schedule awaits manual confirmation",
				"id", s.ID,
				"next_execution_date", s.NextExecutionDate.String())
			return append(attempts, core.ExecutionAttempt{
				ScheduledTransactionID: s.ID,
				AttemptedDate:          s.NextExecutionDate,
				Outcome:                core.OutcomeSkipped,
			}), true
		}

		attempt, updated, err := e.executeOccurrence(ctx, s, asOf)
		unlock()
		attempts = append(attempts, attempt)
		if err != nil || !updated.IsDue(asOf) {
			return attempts, false
		}
	}

	slog.WarnContext(ctx, "Catch-up limit reached",
		"id", listed.ID,
		"max_catch_up", e.cfg.MaxCatchUp)
	return attempts, false
}

// executeOccurrence moves the money for the schedule's current occurrence,
// records the transaction and advances the cursor. The caller holds the
// schedule lock.
func (e *Engine) executeOccurrence(ctx context.Context, s core.ScheduledTransaction, asOf core.Date) (core.ExecutionAttempt, core.ScheduledTransaction, error) {
	occurrence := s.NextExecutionDate
	attempt := core.ExecutionAttempt{ScheduledTransactionID: s.ID, AttemptedDate: occurrence}

	if err := e.applyDelta(ctx, s, occurrence); err != nil {
		if errors.Is(err, core.ErrInsufficientFunds) {
			attempt.Outcome = core.OutcomeInsufficientFunds
			attempt.Error = err.Error()
			slog.WarnContext(ctx, "Insufficient funds for scheduled transaction",
				"id", s.ID,
				"account_id", s.AccountID,
				"amount", s.SignedAmount().String(),
				"date", occurrence.String())
			updated := e.markBlocked(ctx, s, asOf)
			e.notify(ctx, core.NewEvent(e.newID(), core.EventInsufficientFunds, s, occurrence, e.now().UTC()))
			return attempt, updated, err
		}
		return e.fail(ctx, attempt, s, err)
	}

	// The balance moved: finish the bookkeeping even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	tx, err := e.transactions.Record(ctx, s.Materialize(e.newID(), occurrence, e.now().UTC()))
	if err != nil {
		return e.fail(ctx, attempt, s, fmt.Errorf("record transaction: %w", err))
	}
	attempt.TransactionID = tx.ID

	updated, err := e.advance(ctx, s, occurrence)
	if err != nil {
		return e.fail(ctx, attempt, s, fmt.Errorf("advance schedule: %w", err))
	}
	attempt.Outcome = core.OutcomeExecuted
	e.changed()

	slog.InfoContext(ctx, "Executed scheduled transaction",
		"id", s.ID,
		"transaction_id", tx.ID,
		"account_id", s.AccountID,
		"amount", s.SignedAmount().String(),
		"date", occurrence.String(),
		"next_execution_date", updated.NextExecutionDate.String())

	ev := core.NewEvent(e.newID(), core.EventExecuted, s, occurrence, e.now().UTC())
	ev.TransactionID = tx.ID
	e.notify(ctx, ev)

	if updated.Status == core.StatusCompleted {
		slog.InfoContext(ctx, "Schedule completed", "id", s.ID, "end_date", s.EndDate.String())
		e.notify(ctx, core.NewEvent(e.newID(), core.EventScheduleCompleted, updated, occurrence, e.now().UTC()))
	}
	return attempt, updated, nil
}

func (e *Engine) applyDelta(ctx context.Context, s core.ScheduledTransaction, occurrence core.Date) error {
	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()

	err := e.gateway.ApplyDelta(gctx, s.AccountID, s.SignedAmount(), s.IdempotencyKey(occurrence))
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, core.ErrGatewayTimeout) {
		return fmt.Errorf("%w: %v", core.ErrGatewayTimeout, err)
	}
	return err
}

func (e *Engine) fail(ctx context.Context, attempt core.ExecutionAttempt, s core.ScheduledTransaction, err error) (core.ExecutionAttempt, core.ScheduledTransaction, error) {
	attempt.Outcome = core.OutcomeFailed
	attempt.Error = err.Error()

	slog.ErrorContext(ctx, "Scheduled transaction execution failed",
		"id", s.ID,
		"account_id", s.AccountID,
		"date", attempt.AttemptedDate.String(),
		"error", err)

	ev := core.NewEvent(e.newID(), core.EventExecutionFailed, s, attempt.AttemptedDate, e.now().UTC())
	ev.TransactionID = attempt.TransactionID
	ev.Error = err.Error()
	e.notify(ctx, ev)
	return attempt, s, err
}

// advance moves the cursor past occurrence. On a version conflict the
// schedule is reloaded and the step re-applied only if the cursor still
// points at occurrence.
func (e *Engine) advance(ctx context.Context, s core.ScheduledTransaction, occurrence core.Date) (core.ScheduledTransaction, error) {
	updated, err := e.schedules.Update(ctx, advanced(s, occurrence))
	if !errors.Is(err, core.ErrConflict) {
		return updated, err
	}

	cur, gerr := e.schedules.Get(ctx, s.ID)
	if gerr != nil {
		return s, gerr
	}
	if !cur.NextExecutionDate.Equal(occurrence) || cur.Status != core.StatusActive {
		slog.InfoContext(ctx, "Schedule changed concurrently, keeping stored cursor",
			"id", s.ID,
			"next_execution_date", cur.NextExecutionDate.String())
		return cur, nil
	}
	return e.schedules.Update(ctx, advanced(cur, occurrence))
}

// advanced returns s after executing occurrence: the cursor moves to the next
// occurrence, or the schedule completes when that falls past the end date.
func advanced(s core.ScheduledTransaction, occurrence core.Date) core.ScheduledTransaction {
	s = s.Clone()
	s.LastExecutionDate = occurrence
	s.InsufficientFunds = false
	s.BlockedSince = core.Date{}

	r, err := s.Recurrence()
	if err != nil {
		s.Status = core.StatusCompleted
		return s
	}
	next := r.Next(occurrence)
	if !s.EndDate.IsEmpty() && next.After(s.EndDate) {
		s.Status = core.StatusCompleted
		return s
	}
	s.NextExecutionDate = next
	return s
}

func (e *Engine) markBlocked(ctx context.Context, s core.ScheduledTransaction, asOf core.Date) core.ScheduledTransaction {
	if s.InsufficientFunds {
		return s
	}
	b := s.Clone()
	b.InsufficientFunds = true
	b.BlockedSince = asOf

	updated, err := e.schedules.Update(ctx, b)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to flag schedule as blocked",
			"id", s.ID,
			"error", err)
		return s
	}
	e.changed()
	return updated
}

func (e *Engine) notify(ctx context.Context, ev core.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		slog.WarnContext(ctx, "Failed to deliver event",
			"type", ev.Type,
			"id", ev.ScheduledTransactionID,
			"error", err)
	}
}

func (e *Engine) changed() {
	for _, fn := range e.onChange {
		fn()
	}
}

// lockSchedule takes the schedule and account locks and returns the schedule
// as stored under them. If the account changed while waiting the locks are
// retaken once for the new account.
func lockSchedule(ctx context.Context, locks *KeyLock, store ports.ScheduleReader, id string) (core.ScheduledTransaction, func(), error) {
	s, err := store.Get(ctx, id)
	if err != nil {
		return core.ScheduledTransaction{}, nil, err
	}
	for range 2 {
		unlock, err := locks.Lock(ctx, scheduleKey(id), accountKey(s.AccountID))
		if err != nil {
			return core.ScheduledTransaction{}, nil, err
		}
		cur, err := store.Get(ctx, id)
		if err != nil {
			unlock()
			return core.ScheduledTransaction{}, nil, err
		}
		if cur.AccountID == s.AccountID {
			return cur, unlock, nil
		}
		unlock()
		s = cur
	}
	return core.ScheduledTransaction{}, nil, fmt.Errorf("schedule %s moved between accounts while locking: %w", id, core.ErrConflict)
}
