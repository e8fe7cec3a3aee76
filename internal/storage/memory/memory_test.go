package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ricorrenti/internal/core"
)

func TestMemoryStoreScheduleLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	day := 1
	st := core.ScheduledTransaction{
		ID:                "s1",
		AccountID:         "acc",
		Amount:            core.MoneyFromCents(100),
		Type:              core.Expense,
		Description:       "t",
		Frequency:         core.FrequencyMonthly,
		Anchor:            core.Anchor{DayOfMonth: &day},
		NextExecutionDate: core.NewDate(2024, 1, 1),
		Status:            core.StatusActive,
	}
	created, err := s.Create(ctx, st)
	if err != nil || created.Version != 1 {
		t.Fatalf("unexpected create: %+v err=%v", created, err)
	}

	// mutating the returned copy must not leak into the store
	*created.DayOfMonth = 9
	got, _ := s.Get(ctx, "s1")
	if *got.DayOfMonth != 1 {
		t.Fatalf("store shares anchor pointer with caller")
	}

	got.Status = core.StatusPaused
	updated, err := s.Update(ctx, got)
	if err != nil || updated.Version != 2 {
		t.Fatalf("unexpected update: v=%d err=%v", updated.Version, err)
	}
	if _, err := s.Update(ctx, got); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	paused, _ := s.List(ctx, core.ScheduleFilter{Status: core.StatusPaused})
	if len(paused) != 1 {
		t.Fatalf("expected one paused schedule, got %d", len(paused))
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreApplyDelta(t *testing.T) {
	ctx := context.Background()
	s := New([]core.Account{{ID: "acc", Balance: core.MoneyFromCents(1000), Minimum: core.MoneyFromCents(-500)}})

	if err := s.ApplyDelta(ctx, "acc", core.MoneyFromCents(-1400), "k1"); err != nil {
		t.Fatalf("debit within overdraft: %v", err)
	}
	if err := s.ApplyDelta(ctx, "acc", core.MoneyFromCents(-1400), "k1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if err := s.ApplyDelta(ctx, "acc", core.MoneyFromCents(-200), "k2"); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := s.ApplyDelta(ctx, "other", core.MoneyFromCents(1), "k3"); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	bal, _ := s.Balance(ctx, "acc")
	if bal.Cents() != -400 {
		t.Fatalf("balance = %d, want -400", bal.Cents())
	}
}

func TestMemoryStoreRecordAndExport(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	tx := core.Transaction{ID: "t1", ScheduledTransactionID: "s1", Date: core.NewDate(2024, 1, 1), CreatedAt: time.Now()}
	if _, err := s.Record(ctx, tx); err != nil {
		t.Fatalf("record: %v", err)
	}
	tx.ID = "t2"
	got, _ := s.Record(ctx, tx)
	if got.ID != "t1" {
		t.Fatalf("expected existing record, got %s", got.ID)
	}

	pending, _ := s.PendingExports(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if err := s.MarkExported(ctx, "t1", "mem:1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, _ = s.PendingExports(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("pending after export = %d, want 0", len(pending))
	}
}

func TestNewFromFileSeedsAccounts(t *testing.T) {
	s, err := NewFromFile("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if _, err := s.Balance(context.Background(), "x"); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected empty store")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.txt")
	content := "# id,balance,minimum\nchecking,1500.50\n\nsavings,200,-100\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	s, err = NewFromFile(path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	bal, err := s.Balance(context.Background(), "checking")
	if err != nil || bal.Cents() != 150050 {
		t.Fatalf("checking = %d err=%v", bal.Cents(), err)
	}

	if err := os.WriteFile(path, []byte("broken\n"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := NewFromFile(path); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}
