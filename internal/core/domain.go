package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const (
	OutcomeExecuted          Outcome = "executed"
	OutcomeInsufficientFunds Outcome = "insufficientFunds"
	OutcomeSkipped           Outcome = "skipped"
	OutcomeFailed            Outcome = "failed"
)

const dateLayout = "2006-01-02"

type (
	Frequency       string
	TransactionType string
	Status          string
	Outcome         string

	// Date is a calendar day in UTC. The zero value means "not set".
	Date struct {
		time.Time
	}

	// Anchor fixes the timing of a recurrence. Only the fields meaningful for
	// the schedule's frequency are kept; MonthOfYear is derived from the start
	// date for yearly schedules.
	Anchor struct {
		DayOfWeek   *int `json:"dayOfWeek,omitempty"`
		DayOfMonth  *int `json:"dayOfMonth,omitempty"`
		MonthOfYear *int `json:"monthOfYear,omitempty"`
	}

	ScheduledTransaction struct {
		ID                string          `json:"id"`
		AccountID         string          `json:"accountId"`
		CategoryID        string          `json:"categoryId"`
		Amount            Money           `json:"amount"`
		Type              TransactionType `json:"type"`
		Description       string          `json:"description"`
		Payee             string          `json:"payee"`
		Tags              []string        `json:"tags"`
		Frequency         Frequency       `json:"frequency"`
		Anchor
		StartDate         Date   `json:"startDate"`
		EndDate           Date   `json:"endDate"`
		NextExecutionDate Date   `json:"nextExecutionDate"`
		LastExecutionDate Date   `json:"lastExecutionDate"`
		AutoExecute       bool   `json:"autoExecute"`
		Status            Status `json:"status"`
		// InsufficientFunds is set when the last execution attempt was refused
		// by the balance gateway, and cleared by a successful attempt or by an
		// edit of amount or account.
		InsufficientFunds bool      `json:"insufficientFunds"`
		BlockedSince      Date      `json:"blockedSince"`
		Version           int64     `json:"version"`
		CreatedAt         time.Time `json:"createdAt"`
		UpdatedAt         time.Time `json:"updatedAt"`
	}

	// ScheduleDefinition carries the user-editable fields of a schedule.
	ScheduleDefinition struct {
		AccountID   string          `json:"accountId"`
		CategoryID  string          `json:"categoryId"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Description string          `json:"description"`
		Payee       string          `json:"payee"`
		Tags        []string        `json:"tags"`
		Frequency   Frequency       `json:"frequency"`
		DayOfWeek   *int            `json:"dayOfWeek"`
		DayOfMonth  *int            `json:"dayOfMonth"`
		StartDate   Date            `json:"startDate"`
		EndDate     Date            `json:"endDate"`
		AutoExecute bool            `json:"autoExecute"`
		// Status is optional on update; empty leaves it unchanged.
		Status Status `json:"status,omitempty"`
	}

	// Transaction is the record materialized by one execution of a schedule.
	Transaction struct {
		ID                     string          `json:"id"`
		ScheduledTransactionID string          `json:"scheduledTransactionId"`
		AccountID              string          `json:"accountId"`
		CategoryID             string          `json:"categoryId"`
		Amount                 Money           `json:"amount"`
		Type                   TransactionType `json:"type"`
		Description            string          `json:"description"`
		Payee                  string          `json:"payee"`
		Tags                   []string        `json:"tags"`
		Date                   Date            `json:"date"`
		CreatedAt              time.Time       `json:"createdAt"`
		LedgerRef              string          `json:"ledgerRef,omitempty"`
	}

	ExecutionAttempt struct {
		ScheduledTransactionID string  `json:"scheduledTransactionId"`
		AttemptedDate          Date    `json:"attemptedDate"`
		Outcome                Outcome `json:"outcome"`
		TransactionID          string  `json:"transactionId,omitempty"`
		Error                  string  `json:"error,omitempty"`
	}

	// Account is the balance view used by the local balance gateways.
	Account struct {
		ID      string `json:"id"`
		Balance Money  `json:"balance"`
		// Minimum is the lowest balance a debit may leave behind.
		Minimum Money `json:"minimum"`
	}

	// ScheduleFilter selects schedules. Zero fields are unconstrained.
	ScheduleFilter struct {
		Status            Status
		Frequency         Frequency
		AccountID         string
		CategoryID        string
		NextFrom          Date
		NextTo            Date
		InsufficientFunds *bool
	}
)

var (
	ErrInvalidFrequency        = errors.New("invalid frequency")
	ErrMissingAnchor           = errors.New("missing anchor")
	ErrInvalidAnchor           = errors.New("invalid anchor")
	ErrInvalidDateRange        = errors.New("invalid date range")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrGatewayTimeout          = errors.New("gateway timeout")
	ErrGateway                 = errors.New("gateway error")
	ErrScheduleNotActive       = errors.New("schedule not active")
	ErrScheduleClosed          = errors.New("schedule is completed or cancelled")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("concurrent modification")
	ErrAccountNotFound         = errors.New("account not found")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidType             = errors.New("invalid transaction type")
	ErrEmptyAccount            = errors.New("empty account")
	ErrEmptyDescription        = errors.New("empty description")
	ErrInvalidHorizon          = errors.New("invalid horizon")
)

// NewDate creates a new Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// Validate checks if the date is valid
func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDateRange)
	}
	return nil
}

// IsEmpty returns true if the date is not set.
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Recurrence builds the recurrence rule of the schedule. Yearly schedules
// without an explicit month anchor recur in the month of the start date.
func (s ScheduledTransaction) Recurrence() (Recurrence, error) {
	a := s.Anchor
	if s.Frequency == FrequencyYearly && a.MonthOfYear == nil && !s.StartDate.IsEmpty() {
		m := int(s.StartDate.Month())
		a.MonthOfYear = &m
	}
	return NewRecurrence(s.Frequency, a)
}

// SignedAmount is the balance delta of one execution: negative for expenses.
func (s ScheduledTransaction) SignedAmount() Money {
	if s.Type == Expense {
		return s.Amount.Negated()
	}
	return s.Amount
}

// IsDue reports whether the schedule is active and its cursor is on or before asOf.
func (s ScheduledTransaction) IsDue(asOf Date) bool {
	return s.Status == StatusActive && !s.NextExecutionDate.After(asOf)
}

// IdempotencyKey identifies one occurrence of the schedule across retries.
func (s ScheduledTransaction) IdempotencyKey(occurrence Date) string {
	return s.ID + ":" + occurrence.String()
}

// Materialize builds the transaction record for one occurrence.
func (s ScheduledTransaction) Materialize(id string, occurrence Date, createdAt time.Time) Transaction {
	return Transaction{
		ID:                     id,
		ScheduledTransactionID: s.ID,
		AccountID:              s.AccountID,
		CategoryID:             s.CategoryID,
		Amount:                 s.Amount,
		Type:                   s.Type,
		Description:            s.Description,
		Payee:                  s.Payee,
		Tags:                   slices.Clone(s.Tags),
		Date:                   occurrence,
		CreatedAt:              createdAt,
	}
}

// Clone returns a copy that shares no slices or pointers with s.
func (s ScheduledTransaction) Clone() ScheduledTransaction {
	c := s
	c.Tags = slices.Clone(s.Tags)
	c.Anchor = s.Anchor.clone()
	return c
}

func (a Anchor) clone() Anchor {
	return Anchor{
		DayOfWeek:   cloneInt(a.DayOfWeek),
		DayOfMonth:  cloneInt(a.DayOfMonth),
		MonthOfYear: cloneInt(a.MonthOfYear),
	}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks the definition and returns the recurrence it describes.
func (def ScheduleDefinition) Validate() (Recurrence, error) {
	if strings.TrimSpace(def.AccountID) == "" {
		return nil, ErrEmptyAccount
	}
	if !def.Type.Valid() {
		return nil, ErrInvalidType
	}
	if err := def.Amount.Validate(); err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(def.Description)) == 0 {
		return nil, ErrEmptyDescription
	}
	if len(def.Description) > 200 {
		return nil, fmt.Errorf("%w: description too long (max 200 characters)", ErrEmptyDescription)
	}
	if def.StartDate.IsEmpty() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidDateRange)
	}
	if !def.EndDate.IsEmpty() && def.EndDate.Before(def.StartDate) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidDateRange, def.EndDate, def.StartDate)
	}
	if def.Status != "" && !def.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, def.Status)
	}
	return NewRecurrence(def.Frequency, def.Anchor())
}

// Anchor returns the anchor meaningful for the definition's frequency.
func (def ScheduleDefinition) Anchor() Anchor {
	a := Anchor{DayOfWeek: cloneInt(def.DayOfWeek), DayOfMonth: cloneInt(def.DayOfMonth)}
	if def.Frequency == FrequencyYearly && !def.StartDate.IsEmpty() {
		m := int(def.StartDate.Month())
		a.MonthOfYear = &m
	}
	return a.Normalize(def.Frequency)
}

// Matches reports whether s satisfies every constraint of the filter.
func (f ScheduleFilter) Matches(s ScheduledTransaction) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Frequency != "" && s.Frequency != f.Frequency {
		return false
	}
	if f.AccountID != "" && s.AccountID != f.AccountID {
		return false
	}
	if f.CategoryID != "" && s.CategoryID != f.CategoryID {
		return false
	}
	if !f.NextFrom.IsEmpty() && s.NextExecutionDate.Before(f.NextFrom) {
		return false
	}
	if !f.NextTo.IsEmpty() && s.NextExecutionDate.After(f.NextTo) {
		return false
	}
	if f.InsufficientFunds != nil && s.InsufficientFunds != *f.InsufficientFunds {
		return false
	}
	return true
}

// SortSchedules orders by next execution date, then id.
func SortSchedules(items []ScheduledTransaction) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].NextExecutionDate, items[j].NextExecutionDate
		if !a.Equal(b) {
			return a.Before(b)
		}
		return items[i].ID < items[j].ID
	})
}

// NormalizeTags trims, drops empties and duplicates, and sorts.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
