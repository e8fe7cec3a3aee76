package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"
	"ricorrenti/internal/storage/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e core.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) types() []core.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyRecorder fails the first n Record calls.
type flakyRecorder struct {
	ports.TransactionRecorder
	failures int
}

func (f *flakyRecorder) Record(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if f.failures > 0 {
		f.failures--
		return core.Transaction{}, errors.New("disk full")
	}
	return f.TransactionRecorder.Record(ctx, tx)
}

// slowGateway never answers before the caller's deadline.
type slowGateway struct{}

func (slowGateway) Balance(ctx context.Context, _ string) (core.Money, error) {
	<-ctx.Done()
	return core.Money{}, ctx.Err()
}

func (slowGateway) ApplyDelta(ctx context.Context, _ string, _ core.Money, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

type harness struct {
	store     *memory.Store
	engine    *Engine
	schedules *ScheduleService
	upcoming  *UpcomingQuery
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, cfg EngineConfig, accounts ...core.Account) *harness {
	t.Helper()
	store := memory.New(accounts)
	locks := NewKeyLock()
	h := &harness{
		store:     store,
		schedules: NewScheduleService(store, store, locks),
		upcoming:  NewUpcomingQuery(store, time.Minute),
		notifier:  &recordingNotifier{},
	}
	h.engine = NewEngine(cfg, store, store, store, h.notifier, locks)
	h.engine.OnChange(h.upcoming.Invalidate)
	h.schedules.OnChange(h.upcoming.Invalidate)
	return h
}

func (h *harness) create(t *testing.T, def core.ScheduleDefinition) core.ScheduledTransaction {
	t.Helper()
	s, err := h.schedules.Create(context.Background(), def)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func (h *harness) get(t *testing.T, id string) core.ScheduledTransaction {
	t.Helper()
	s, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return s
}

func (h *harness) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := h.store.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("Balance(%s) error = %v", account, err)
	}
	return b.Cents()
}

func (h *harness) run(t *testing.T, asOf core.Date) core.RunReport {
	t.Helper()
	report, err := h.engine.RunDueSchedules(context.Background(), asOf)
	if err != nil {
		t.Fatalf("RunDueSchedules() error = %v", err)
	}
	return report
}

func account(id string, cents int64) core.Account {
	return core.Account{ID: id, Balance: core.MoneyFromCents(cents)}
}

func day(y int, m time.Month, d int) core.Date { return core.NewDate(y, m, d) }

func ptr(n int) *int { return &n }

func monthlyExpense(accountID string, cents int64, dayOfMonth int, start core.Date) core.ScheduleDefinition {
	return core.ScheduleDefinition{
		AccountID:   accountID,
		CategoryID:  "housing",
		Amount:      core.MoneyFromCents(cents),
		Type:        core.Expense,
		Description: "Rent",
		Frequency:   core.FrequencyMonthly,
		DayOfMonth:  ptr(dayOfMonth),
		StartDate:   start,
		AutoExecute: true,
	}
}

func outcomes(r core.RunReport) []core.Outcome {
	out := make([]core.Outcome, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.Outcome)
	}
	return out
}

func TestEngine_ExecutesDueExpense(t *testing.T) {
	h := newHarness(t, EngineConfig{}, account("acc", 10000))
	s := h.create(t, monthlyExpense("acc", 3000, 5, day(2024, time.January, 5)))

	report := h.run(t, day(2024, time.January, 5))

	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeExecuted}) {
		t.Fatalf("outcomes = %v", got)
	}
	if got := h.balance(t, "acc"); got != 7000 {
		t.Errorf("balance = %d, want 7000", got)
	}

	after := h.get(t, s.ID)
	if !after.NextExecutionDate.Equal(day(2024, time.February, 5)) {
		t.Errorf("NextExecutionDate = %s, want 2024-02-05", after.NextExecutionDate)
	}
	if !after.LastExecutionDate.Equal(day(2024, time.January, 5)) {
		t.Errorf("LastExecutionDate = %s, want 2024-01-05", after.LastExecutionDate)
	}

	txs, _ := h.store.ListBySchedule(context.Background(), s.ID)
	if len(txs) != 1 || txs[0].ID != report.Attempts[0].TransactionID {
		t.Fatalf("transactions = %+v", txs)
	}
	if !txs[0].Date.Equal(day(2024, time.January, 5)) || txs[0].Amount.Cents() != 3000 {
		t.Errorf("transaction = %+v", txs[0])
	}

	if got := h.notifier.types(); !slices.Equal(got, []core.EventType{core.EventExecuted}) {
		t.Errorf("events = %v", got)
	}
	if amt := h.notifier.events[0].Amount.Cents(); amt != -3000 {
		t.Errorf("event amount = %d, want -3000", amt)
	}
}

func TestEngine_IncomeCredits(t *testing.T) {
	h := newHarness(t, EngineConfig{}, account("acc", 0))
	def := monthlyExpense("acc", 250000, 27, day(2024, time.January, 1))
	def.Type = core.Income
	def.Description = "Salary"
	h.create(t, def)

	h.run(t, day(2024, time.January, 27))

	if got := h.balance(t, "acc"); got != 250000 {
		t.Errorf("balance = %d, want 250000", got)
	}
}

func TestEngine_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{}, account("acc", 1000))
	s := h.create(t, monthlyExpense("acc", 3000, 5, day(2024, time.January, 5)))
	asOf := day(2024, time.January, 5)

	report := h.run(t, asOf)
	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeInsufficientFunds}) {
		t.Fatalf("outcomes = %v", got)
	}

	blocked := h.get(t, s.ID)
	if blocked.Status != core.StatusActive {
		t.Errorf("Status = %s, want active", blocked.Status)
	}
	if !blocked.NextExecutionDate.Equal(asOf) {
		t.Errorf("cursor moved to %s", blocked.NextExecutionDate)
	}
	if !blocked.InsufficientFunds || !blocked.BlockedSince.Equal(asOf) {
		t.Errorf("blocked flag = %v since %s", blocked.InsufficientFunds, blocked.BlockedSince)
	}
	if got := h.balance(t, "acc"); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}

	view, err := h.upcoming.GetUpcoming(ctx, 3, asOf)
	if err != nil {
		t.Fatalf("GetUpcoming() error = %v", err)
	}
	if len(view.InsufficientFundsTransactions) != 1 || view.InsufficientFundsTransactions[0].ID != s.ID {
		t.Errorf("insufficientFundsTransactions = %+v", view.InsufficientFundsTransactions)
	}
	if len(view.UpcomingTransactions) != 0 {
		t.Errorf("upcomingTransactions = %+v", view.UpcomingTransactions)
	}

	// Every run reports the shortfall again.
	h.run(t, asOf.AddDays(1))
	want := []core.EventType{core.EventInsufficientFunds, core.EventInsufficientFunds}
	if got := h.notifier.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := h.get(t, s.ID).BlockedSince; !got.Equal(asOf) {
		t.Errorf("BlockedSince = %s, want %s", got, asOf)
	}

	if err := h.store.SaveAccount(ctx, account("acc", 5000)); err != nil {
		t.Fatal(err)
	}
	report = h.run(t, asOf.AddDays(2))
	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeExecuted}) {
		t.Fatalf("outcomes after funding = %v", got)
	}
	cleared := h.get(t, s.ID)
	if cleared.InsufficientFunds || !cleared.BlockedSince.IsEmpty() {
		t.Errorf("blocked flag not cleared: %+v", cleared)
	}
}

func TestEngine_ManualScheduleWaitsForConfirmation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{}, account("acc", 10000))
	def := monthlyExpense("acc", 3000, 5, day(2024, time.January, 5))
	def.AutoExecute = false
	s := h.create(t, def)
	asOf := day(2024, time.January, 10)

	report := h.run(t, asOf)
	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeSkipped}) {
		t.Fatalf("outcomes = %v", got)
	}
	if !slices.Equal(report.ManualDue, []string{s.ID}) {
		t.Errorf("ManualDue = %v", report.ManualDue)
	}
	if got := h.get(t, s.ID).NextExecutionDate; !got.Equal(day(2024, time.January, 5)) {
		t.Errorf("cursor moved to %s", got)
	}
	if got := h.balance(t, "acc"); got != 10000 {
		t.Errorf("balance = %d", got)
	}

	attempt, err := h.engine.ConfirmExecution(ctx, s.ID, asOf)
	if err != nil {
		t.Fatalf("ConfirmExecution() error = %v", err)
	}
	if attempt.Outcome != core.OutcomeExecuted || !attempt.AttemptedDate.Equal(day(2024, time.January, 5)) {
		t.Errorf("attempt = %+v", attempt)
	}
	if got := h.get(t, s.ID).NextExecutionDate; !got.Equal(day(2024, time.February, 5)) {
		t.Errorf("NextExecutionDate = %s, want 2024-02-05", got)
	}

	report = h.run(t, asOf)
	if len(report.Attempts) != 0 || len(report.ManualDue) != 0 {
		t.Errorf("second run = %+v", report)
	}
}

func TestEngine_ConfirmExecution(t *testing.T) {
	ctx := context.Background()

	t.Run("before due date", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 10000))
		s := h.create(t, monthlyExpense("acc", 3000, 20, day(2024, time.January, 1)))

		attempt, err := h.engine.ConfirmExecution(ctx, s.ID, day(2024, time.January, 2))
		if err != nil {
			t.Fatalf("ConfirmExecution() error = %v", err)
		}
		if !attempt.AttemptedDate.Equal(day(2024, time.January, 20)) {
			t.Errorf("AttemptedDate = %s", attempt.AttemptedDate)
		}
	})

	t.Run("paused schedule", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 10000))
		s := h.create(t, monthlyExpense("acc", 3000, 5, day(2024, time.January, 1)))
		if _, err := h.schedules.Pause(ctx, s.ID); err != nil {
			t.Fatal(err)
		}

		_, err := h.engine.ConfirmExecution(ctx, s.ID, day(2024, time.January, 5))
		if !errors.Is(err, core.ErrScheduleNotActive) {
			t.Errorf("error = %v, want ErrScheduleNotActive", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 100))
		s := h.create(t, monthlyExpense("acc", 3000, 5, day(2024, time.January, 1)))

		attempt, err := h.engine.ConfirmExecution(ctx, s.ID, day(2024, time.January, 5))
		if !errors.Is(err, core.ErrInsufficientFunds) {
			t.Errorf("error = %v, want ErrInsufficientFunds", err)
		}
		if attempt.Outcome != core.OutcomeInsufficientFunds {
			t.Errorf("Outcome = %s", attempt.Outcome)
		}
	})

	t.Run("unknown schedule", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		_, err := h.engine.ConfirmExecution(ctx, "missing", day(2024, time.January, 5))
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestEngine_CatchUp(t *testing.T) {
	daily := func() core.ScheduleDefinition {
		return core.ScheduleDefinition{
			AccountID:   "acc",
			Amount:      core.MoneyFromCents(100),
			Type:        core.Expense,
			Description: "Coffee",
			Frequency:   core.FrequencyDaily,
			StartDate:   day(2024, time.January, 1),
			AutoExecute: true,
		}
	}

	tests := []struct {
		name       string
		maxCatchUp int
		wantRuns   int
		wantNext   core.Date
	}{
		{"all missed occurrences", 0, 5, day(2024, time.January, 6)},
		{"bounded", 3, 3, day(2024, time.January, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, EngineConfig{MaxCatchUp: tt.maxCatchUp}, account("acc", 10000))
			s := h.create(t, daily())

			report := h.run(t, day(2024, time.January, 5))

			if report.Count(core.OutcomeExecuted) != tt.wantRuns {
				t.Errorf("executed = %d, want %d", report.Count(core.OutcomeExecuted), tt.wantRuns)
			}
			if got := h.get(t, s.ID).NextExecutionDate; !got.Equal(tt.wantNext) {
				t.Errorf("NextExecutionDate = %s, want %s", got, tt.wantNext)
			}
			if got := h.balance(t, "acc"); got != 10000-int64(tt.wantRuns)*100 {
				t.Errorf("balance = %d", got)
			}
		})
	}
}

func TestEngine_CompletesPastEndDate(t *testing.T) {
	h := newHarness(t, EngineConfig{}, account("acc", 10000))
	s := h.create(t, core.ScheduleDefinition{
		AccountID:   "acc",
		Amount:      core.MoneyFromCents(500),
		Type:        core.Expense,
		Description: "Gym",
		Frequency:   core.FrequencyWeekly,
		DayOfWeek:   ptr(int(time.Monday)),
		StartDate:   day(2024, time.January, 1),
		EndDate:     day(2024, time.January, 10),
		AutoExecute: true,
	})

	report := h.run(t, day(2024, time.January, 31))

	if report.Count(core.OutcomeExecuted) != 2 {
		t.Fatalf("executed = %d, want 2", report.Count(core.OutcomeExecuted))
	}
	done := h.get(t, s.ID)
	if done.Status != core.StatusCompleted {
		t.Errorf("Status = %s, want completed", done.Status)
	}
	if !done.NextExecutionDate.Equal(day(2024, time.January, 8)) || done.NextExecutionDate.After(done.EndDate) {
		t.Errorf("NextExecutionDate = %s", done.NextExecutionDate)
	}
	want := []core.EventType{core.EventExecuted, core.EventExecuted, core.EventScheduleCompleted}
	if got := h.notifier.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	report = h.run(t, day(2024, time.February, 28))
	if len(report.Attempts) != 0 {
		t.Errorf("completed schedule selected again: %+v", report.Attempts)
	}
}

func TestEngine_RetryDoesNotMoveMoneyTwice(t *testing.T) {
	store := memory.New([]core.Account{account("acc", 10000)})
	locks := NewKeyLock()
	svc := NewScheduleService(store, store, locks)
	notifier := &recordingNotifier{}
	engine := NewEngine(EngineConfig{}, store, &flakyRecorder{TransactionRecorder: store, failures: 1}, store, notifier, locks)
	ctx := context.Background()

	s, err := svc.Create(ctx, monthlyExpense("acc", 3000, 5, day(2024, time.January, 5)))
	if err != nil {
		t.Fatal(err)
	}
	asOf := day(2024, time.January, 5)

	report, err := engine.RunDueSchedules(ctx, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeFailed}) {
		t.Fatalf("outcomes = %v", got)
	}
	if cur, _ := store.Get(ctx, s.ID); !cur.NextExecutionDate.Equal(asOf) {
		t.Errorf("cursor moved after failed recording: %s", cur.NextExecutionDate)
	}

	report, err = engine.RunDueSchedules(ctx, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if got := outcomes(report); !slices.Equal(got, []core.Outcome{core.OutcomeExecuted}) {
		t.Fatalf("retry outcomes = %v", got)
	}

	if b, _ := store.Balance(ctx, "acc"); b.Cents() != 7000 {
		t.Errorf("balance = %d, want 7000", b.Cents())
	}
	if txs, _ := store.ListBySchedule(ctx, s.ID); len(txs) != 1 {
		t.Errorf("transactions = %d, want 1", len(txs))
	}
	want := []core.EventType{core.EventExecutionFailed, core.EventExecuted}
	if got := notifier.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestEngine_GatewayTimeout(t *testing.T) {
	store := memory.New(nil)
	locks := NewKeyLock()
	svc := NewScheduleService(store, store, locks)
	notifier := &recordingNotifier{}
	engine := NewEngine(EngineConfig{GatewayTimeout: 10 * time.Millisecond}, store, store, slowGateway{}, notifier, locks)
	ctx := context.Background()

	s, err := svc.Create(ctx, monthlyExpense("acc", 3000, 5, day(2024, time.January, 5)))
	if err != nil {
		t.Fatal(err)
	}

	attempt, err := engine.ConfirmExecution(ctx, s.ID, day(2024, time.January, 5))
	if !errors.Is(err, core.ErrGatewayTimeout) {
		t.Fatalf("error = %v, want ErrGatewayTimeout", err)
	}
	if attempt.Outcome != core.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", attempt.Outcome)
	}
	cur, _ := store.Get(ctx, s.ID)
	if !cur.NextExecutionDate.Equal(day(2024, time.January, 5)) || cur.InsufficientFunds {
		t.Errorf("schedule changed after timeout: %+v", cur)
	}
	if got := notifier.types(); !slices.Equal(got, []core.EventType{core.EventExecutionFailed}) {
		t.Errorf("events = %v", got)
	}
}

func TestEngine_IsolatesFailuresAndKeepsDueOrder(t *testing.T) {
	h := newHarness(t, EngineConfig{Workers: 2}, account("a", 10000), account("b", 10000))
	first := h.create(t, monthlyExpense("b", 1000, 1, day(2024, time.January, 1)))
	broken := h.create(t, monthlyExpense("missing", 1000, 2, day(2024, time.January, 1)))
	third := h.create(t, monthlyExpense("a", 1000, 3, day(2024, time.January, 1)))

	report := h.run(t, day(2024, time.January, 3))

	wantIDs := []string{first.ID, broken.ID, third.ID}
	wantOutcomes := []core.Outcome{core.OutcomeExecuted, core.OutcomeFailed, core.OutcomeExecuted}
	if len(report.Attempts) != len(wantIDs) {
		t.Fatalf("attempts = %+v", report.Attempts)
	}
	for i, a := range report.Attempts {
		if a.ScheduledTransactionID != wantIDs[i] || a.Outcome != wantOutcomes[i] {
			t.Errorf("attempt %d = %s/%s, want %s/%s", i, a.ScheduledTransactionID, a.Outcome, wantIDs[i], wantOutcomes[i])
		}
	}
	if report.Attempts[1].Error == "" {
		t.Error("failed attempt should carry the error")
	}
	if got := h.get(t, broken.ID).NextExecutionDate; !got.Equal(day(2024, time.January, 2)) {
		t.Errorf("failed schedule cursor = %s", got)
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	h := newHarness(t, EngineConfig{}, account("acc", 10000))
	h.create(t, monthlyExpense("acc", 1000, 1, day(2024, time.January, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.engine.RunDueSchedules(ctx, day(2024, time.January, 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(report.Attempts) != 0 {
		t.Errorf("attempts = %+v", report.Attempts)
	}
}

func TestAdvanced(t *testing.T) {
	s := core.ScheduledTransaction{
		ID:                "s",
		Frequency:         core.FrequencyMonthly,
		Anchor:            core.Anchor{DayOfMonth: ptr(31)},
		StartDate:         day(2024, time.January, 31),
		NextExecutionDate: day(2024, time.January, 31),
		Status:            core.StatusActive,
		InsufficientFunds: true,
		BlockedSince:      day(2024, time.January, 31),
	}

	got := advanced(s, s.NextExecutionDate)
	if !got.NextExecutionDate.Equal(day(2024, time.February, 29)) {
		t.Errorf("NextExecutionDate = %s, want 2024-02-29", got.NextExecutionDate)
	}
	if got.InsufficientFunds || !got.BlockedSince.IsEmpty() {
		t.Error("blocked flag should be cleared")
	}

	s.EndDate = day(2024, time.February, 15)
	got = advanced(s, s.NextExecutionDate)
	if got.Status != core.StatusCompleted || !got.NextExecutionDate.Equal(s.NextExecutionDate) {
		t.Errorf("advanced past end = %s at %s", got.Status, got.NextExecutionDate)
	}
}
