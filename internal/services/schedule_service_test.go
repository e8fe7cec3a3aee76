package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ricorrenti/internal/core"
)

func TestScheduleService_CreateFirstOccurrence(t *testing.T) {
	tests := []struct {
		name string
		def  core.ScheduleDefinition
		want core.Date
	}{
		{
			name: "weekly monday starting on a monday",
			def: core.ScheduleDefinition{
				Frequency: core.FrequencyWeekly,
				DayOfWeek: ptr(int(time.Monday)),
				StartDate: day(2024, time.January, 1),
			},
			want: day(2024, time.January, 1),
		},
		{
			name: "monthly 31 starting in april clamps",
			def: core.ScheduleDefinition{
				Frequency:  core.FrequencyMonthly,
				DayOfMonth: ptr(31),
				StartDate:  day(2024, time.April, 1),
			},
			want: day(2024, time.April, 30),
		},
		{
			name: "monthly anchor already passed",
			def: core.ScheduleDefinition{
				Frequency:  core.FrequencyMonthly,
				DayOfMonth: ptr(5),
				StartDate:  day(2024, time.January, 10),
			},
			want: day(2024, time.February, 5),
		},
		{
			name: "yearly uses the start month",
			def: core.ScheduleDefinition{
				Frequency:  core.FrequencyYearly,
				DayOfMonth: ptr(29),
				StartDate:  day(2023, time.February, 1),
			},
			want: day(2023, time.February, 28),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, EngineConfig{})
			def := tt.def
			def.AccountID = "acc"
			def.Amount = core.MoneyFromCents(1000)
			def.Type = core.Expense
			def.Description = "Subscription"
			def.Tags = []string{" media", "media", "", "bills"}

			s := h.create(t, def)

			if !s.NextExecutionDate.Equal(tt.want) {
				t.Errorf("NextExecutionDate = %s, want %s", s.NextExecutionDate, tt.want)
			}
			if s.Status != core.StatusActive {
				t.Errorf("Status = %s, want active", s.Status)
			}
			if s.ID == "" || s.Version != 1 {
				t.Errorf("ID = %q Version = %d", s.ID, s.Version)
			}
			if len(s.Tags) != 2 || s.Tags[0] != "bills" || s.Tags[1] != "media" {
				t.Errorf("Tags = %v", s.Tags)
			}
		})
	}
}

func TestScheduleService_CreateValidation(t *testing.T) {
	base := monthlyExpense("acc", 1000, 15, day(2024, time.January, 1))

	tests := []struct {
		name   string
		mutate func(*core.ScheduleDefinition)
		want   error
	}{
		{"unknown frequency", func(d *core.ScheduleDefinition) { d.Frequency = "hourly" }, core.ErrInvalidFrequency},
		{"missing day of month", func(d *core.ScheduleDefinition) { d.DayOfMonth = nil }, core.ErrMissingAnchor},
		{"day of month out of range", func(d *core.ScheduleDefinition) { d.DayOfMonth = ptr(32) }, core.ErrInvalidAnchor},
		{"weekly without weekday", func(d *core.ScheduleDefinition) { d.Frequency = core.FrequencyWeekly }, core.ErrMissingAnchor},
		{"end before start", func(d *core.ScheduleDefinition) { d.EndDate = day(2023, time.December, 1) }, core.ErrInvalidDateRange},
		{"no occurrence before end", func(d *core.ScheduleDefinition) { d.EndDate = day(2024, time.January, 10) }, core.ErrInvalidDateRange},
		{"zero amount", func(d *core.ScheduleDefinition) { d.Amount = core.MoneyFromCents(0) }, core.ErrInvalidAmount},
		{"unknown type", func(d *core.ScheduleDefinition) { d.Type = "transfer" }, core.ErrInvalidType},
		{"missing account", func(d *core.ScheduleDefinition) { d.AccountID = " " }, core.ErrEmptyAccount},
		{"missing description", func(d *core.ScheduleDefinition) { d.Description = "" }, core.ErrEmptyDescription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, EngineConfig{})
			def := base
			tt.mutate(&def)

			_, err := h.schedules.Create(context.Background(), def)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScheduleService_Update(t *testing.T) {
	ctx := context.Background()
	asOf := day(2024, time.March, 1)

	t.Run("timing change recomputes after last execution", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 100000))
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))
		h.run(t, day(2024, time.January, 5))

		def := monthlyExpense("acc", 1000, 3, day(2024, time.January, 1))
		updated, err := h.schedules.Update(ctx, s.ID, def, asOf)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if !updated.NextExecutionDate.Equal(day(2024, time.February, 3)) {
			t.Errorf("NextExecutionDate = %s, want 2024-02-03", updated.NextExecutionDate)
		}
		if updated.Version != 3 {
			t.Errorf("Version = %d, want 3", updated.Version)
		}
	})

	t.Run("description change keeps the cursor", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))

		def := monthlyExpense("acc", 1000, 5, day(2024, time.January, 1))
		def.Description = "Rent (new flat)"
		updated, err := h.schedules.Update(ctx, s.ID, def, asOf)
		if err != nil {
			t.Fatal(err)
		}
		if !updated.NextExecutionDate.Equal(s.NextExecutionDate) || updated.Description != "Rent (new flat)" {
			t.Errorf("updated = %+v", updated)
		}
	})

	t.Run("amount change clears the blocked flag", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 500))
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))
		h.run(t, day(2024, time.January, 5))
		if !h.get(t, s.ID).InsufficientFunds {
			t.Fatal("schedule should be blocked")
		}

		updated, err := h.schedules.Update(ctx, s.ID, monthlyExpense("acc", 400, 5, day(2024, time.January, 1)), asOf)
		if err != nil {
			t.Fatal(err)
		}
		if updated.InsufficientFunds || !updated.BlockedSince.IsEmpty() {
			t.Errorf("blocked flag kept: %+v", updated)
		}
	})

	t.Run("end date before cursor completes an executed schedule", func(t *testing.T) {
		h := newHarness(t, EngineConfig{}, account("acc", 100000))
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))
		h.run(t, day(2024, time.January, 5))

		def := monthlyExpense("acc", 1000, 5, day(2024, time.January, 1))
		def.EndDate = day(2024, time.January, 20)
		updated, err := h.schedules.Update(ctx, s.ID, def, asOf)
		if err != nil {
			t.Fatal(err)
		}
		if updated.Status != core.StatusCompleted || !updated.NextExecutionDate.Equal(day(2024, time.January, 5)) {
			t.Errorf("updated = %s at %s", updated.Status, updated.NextExecutionDate)
		}
	})

	t.Run("end date before first occurrence", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 10)))

		def := monthlyExpense("acc", 1000, 5, day(2024, time.January, 10))
		def.EndDate = day(2024, time.January, 31)
		if _, err := h.schedules.Update(ctx, s.ID, def, asOf); !errors.Is(err, core.ErrInvalidDateRange) {
			t.Errorf("error = %v, want ErrInvalidDateRange", err)
		}
	})

	t.Run("terminal schedule", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))
		if _, err := h.schedules.Cancel(ctx, s.ID); err != nil {
			t.Fatal(err)
		}

		_, err := h.schedules.Update(ctx, s.ID, monthlyExpense("acc", 2000, 5, day(2024, time.January, 1)), asOf)
		if !errors.Is(err, core.ErrScheduleClosed) {
			t.Errorf("error = %v, want ErrScheduleClosed", err)
		}
	})

	t.Run("status cannot be set to completed", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))

		def := monthlyExpense("acc", 1000, 5, day(2024, time.January, 1))
		def.Status = core.StatusCompleted
		if _, err := h.schedules.Update(ctx, s.ID, def, asOf); !errors.Is(err, core.ErrInvalidStatusTransition) {
			t.Errorf("error = %v, want ErrInvalidStatusTransition", err)
		}
	})

	t.Run("unknown schedule", func(t *testing.T) {
		h := newHarness(t, EngineConfig{})
		_, err := h.schedules.Update(ctx, "missing", monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)), asOf)
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestScheduleService_PauseResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{}, account("acc", 100000))
	s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))

	paused, err := h.schedules.Pause(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.Status != core.StatusPaused {
		t.Fatalf("Status = %s", paused.Status)
	}

	if report := h.run(t, day(2024, time.March, 31)); len(report.Attempts) != 0 {
		t.Errorf("paused schedule executed: %+v", report.Attempts)
	}

	resumed, err := h.schedules.Resume(ctx, s.ID, day(2024, time.March, 10))
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != core.StatusActive {
		t.Errorf("Status = %s", resumed.Status)
	}
	// January to March were missed while paused and are skipped.
	if !resumed.NextExecutionDate.Equal(day(2024, time.April, 5)) {
		t.Errorf("NextExecutionDate = %s, want 2024-04-05", resumed.NextExecutionDate)
	}

	if _, err := h.schedules.Cancel(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.schedules.Resume(ctx, s.ID, day(2024, time.March, 10)); !errors.Is(err, core.ErrScheduleClosed) {
		t.Errorf("resume cancelled: error = %v, want ErrScheduleClosed", err)
	}
}

func TestScheduleService_ResumePastEndCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{})
	def := monthlyExpense("acc", 1000, 5, day(2024, time.January, 1))
	def.EndDate = day(2024, time.February, 28)
	s := h.create(t, def)

	if _, err := h.schedules.Pause(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	resumed, err := h.schedules.Resume(ctx, s.ID, day(2024, time.June, 1))
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != core.StatusCompleted || resumed.NextExecutionDate.After(resumed.EndDate) {
		t.Errorf("resumed = %s at %s", resumed.Status, resumed.NextExecutionDate)
	}
}

func TestScheduleService_DeleteKeepsTransactions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{}, account("acc", 100000))
	s := h.create(t, monthlyExpense("acc", 1000, 5, day(2024, time.January, 1)))
	h.run(t, day(2024, time.January, 5))

	if err := h.schedules.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := h.schedules.Get(ctx, s.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get after delete: error = %v", err)
	}
	txs, err := h.schedules.ListTransactions(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Errorf("transactions = %d, want 1", len(txs))
	}
	if err := h.schedules.Delete(ctx, s.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: error = %v", err)
	}
}

func TestScheduleService_List(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, EngineConfig{})
	a := h.create(t, monthlyExpense("acc-1", 1000, 20, day(2024, time.January, 1)))
	b := h.create(t, monthlyExpense("acc-2", 1000, 10, day(2024, time.January, 1)))
	if _, err := h.schedules.Pause(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	all, err := h.schedules.List(ctx, core.ScheduleFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != b.ID || all[1].ID != a.ID {
		t.Errorf("List() order = %v", all)
	}

	active, _ := h.schedules.List(ctx, core.ScheduleFilter{Status: core.StatusActive})
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("active = %v", active)
	}

	none, _ := h.schedules.List(ctx, core.ScheduleFilter{AccountID: "acc-3"})
	if none == nil || len(none) != 0 {
		t.Errorf("List() for unknown account = %#v, want empty slice", none)
	}
}
