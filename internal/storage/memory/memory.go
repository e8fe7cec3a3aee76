// Package memory is an in-process implementation of every storage port,
// used for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"ricorrenti/internal/core"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu        sync.Mutex
	schedules map[string]core.ScheduledTransaction
	txs       []core.Transaction
	exported  map[string]bool
	accounts  map[string]core.Account
	movements map[string]struct{}
	now       func() time.Time
}

func New(accounts []core.Account) *Store {
	s := &Store{
		schedules: map[string]core.ScheduledTransaction{},
		exported:  map[string]bool{},
		accounts:  map[string]core.Account{},
		movements: map[string]struct{}{},
		now:       time.Now,
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// NewFromFile seeds accounts from a file of "id,balance[,minimum]" lines.
// A missing path yields an empty store.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(nil), nil
	}
	accounts, err := ReadAccountSeed(path)
	if err != nil {
		return nil, err
	}
	return New(accounts), nil
}

// Create implements ports.ScheduleWriter
func (s *Store) Create(_ context.Context, st core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[st.ID]; ok {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", st.ID, core.ErrConflict)
	}
	now := s.now().UTC()
	st.Version = 1
	st.CreatedAt, st.UpdatedAt = now, now
	s.schedules[st.ID] = st.Clone()
	return st, nil
}

// Get implements ports.ScheduleReader
func (s *Store) Get(_ context.Context, id string) (core.ScheduledTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.schedules[id]
	if !ok {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	return st.Clone(), nil
}

// List implements ports.ScheduleReader
func (s *Store) List(_ context.Context, f core.ScheduleFilter) ([]core.ScheduledTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ScheduledTransaction
	for _, st := range s.schedules {
		if f.Matches(st) {
			out = append(out, st.Clone())
		}
	}
	core.SortSchedules(out)
	return out, nil
}

// Update implements ports.ScheduleWriter
func (s *Store) Update(_ context.Context, st core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[st.ID]
	if !ok {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", st.ID, core.ErrNotFound)
	}
	if cur.Version != st.Version {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s version %d: %w", st.ID, st.Version, core.ErrConflict)
	}
	st.Version++
	st.CreatedAt = cur.CreatedAt
	st.UpdatedAt = s.now().UTC()
	s.schedules[st.ID] = st.Clone()
	return st, nil
}

// Delete implements ports.ScheduleWriter
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	delete(s.schedules, id)
	return nil
}

// Record implements ports.TransactionRecorder
func (s *Store) Record(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.txs {
		if existing.ScheduledTransactionID == tx.ScheduledTransactionID && existing.Date.Equal(tx.Date) {
			return existing, nil
		}
	}
	s.txs = append(s.txs, tx)
	return tx, nil
}

// ListBySchedule implements ports.TransactionLister
func (s *Store) ListBySchedule(_ context.Context, scheduleID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.ScheduledTransactionID == scheduleID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// GetTransaction implements ports.ExportQueue
func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

// PendingExports implements ports.ExportQueue
func (s *Store) PendingExports(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if len(out) == limit {
			break
		}
		if !s.exported[tx.ID] {
			out = append(out, tx)
		}
	}
	return out, nil
}

// MarkExported implements ports.ExportQueue
func (s *Store) MarkExported(_ context.Context, id string, ledgerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.txs {
		if s.txs[i].ID == id {
			s.txs[i].LedgerRef = ledgerRef
			s.exported[id] = true
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

// SaveAccount creates or replaces an account.
func (s *Store) SaveAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

// Balance implements ports.BalanceGateway
func (s *Store) Balance(_ context.Context, accountID string) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return core.Money{}, fmt.Errorf("account %s: %w", accountID, core.ErrAccountNotFound)
	}
	return a.Balance, nil
}

// ApplyDelta implements ports.BalanceGateway
func (s *Store) ApplyDelta(_ context.Context, accountID string, delta core.Money, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movements[key]; ok {
		return nil
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, core.ErrAccountNotFound)
	}
	next := a.Balance.Plus(delta)
	if delta.IsNegative() && next.LessThan(a.Minimum.Decimal) {
		return fmt.Errorf("account %s delta %s: %w", accountID, delta, core.ErrInsufficientFunds)
	}
	a.Balance = next
	s.accounts[accountID] = a
	s.movements[key] = struct{}{}
	return nil
}

// ReadAccountSeed parses "id,balance[,minimum]" lines. Blank lines and
// lines starting with # are ignored; balances may be negative.
func ReadAccountSeed(path string) ([]core.Account, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	var out []core.Account
	for i, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%s:%d: want id,balance[,minimum]", path, i+1)
		}
		a := core.Account{ID: strings.TrimSpace(fields[0])}
		if a.Balance, err = parseSigned(fields[1]); err != nil {
			return nil, fmt.Errorf("%s:%d: balance: %w", path, i+1, err)
		}
		if len(fields) == 3 {
			if a.Minimum, err = parseSigned(fields[2]); err != nil {
				return nil, fmt.Errorf("%s:%d: minimum: %w", path, i+1, err)
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func parseSigned(s string) (core.Money, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
	if err != nil {
		return core.Money{}, core.ErrInvalidAmount
	}
	return core.NewMoney(d), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
