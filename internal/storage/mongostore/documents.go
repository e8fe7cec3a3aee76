package mongostore

import (
	"fmt"
	"time"

	"ricorrenti/internal/core"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type scheduleDoc struct {
	ID                string               `bson:"_id"`
	AccountID         string               `bson:"accountId"`
	CategoryID        string               `bson:"categoryId"`
	Amount            primitive.Decimal128 `bson:"amount"`
	Type              string               `bson:"type"`
	Description       string               `bson:"description"`
	Payee             string               `bson:"payee"`
	Tags              []string             `bson:"tags"`
	Frequency         string               `bson:"frequency"`
	DayOfWeek         *int                 `bson:"dayOfWeek,omitempty"`
	DayOfMonth        *int                 `bson:"dayOfMonth,omitempty"`
	MonthOfYear       *int                 `bson:"monthOfYear,omitempty"`
	StartDate         string               `bson:"startDate"`
	EndDate           string               `bson:"endDate,omitempty"`
	NextExecutionDate string               `bson:"nextExecutionDate"`
	LastExecutionDate string               `bson:"lastExecutionDate,omitempty"`
	AutoExecute       bool                 `bson:"autoExecute"`
	Status            string               `bson:"status"`
	InsufficientFunds bool                 `bson:"insufficientFunds"`
	BlockedSince      string               `bson:"blockedSince,omitempty"`
	Version           int64                `bson:"version"`
	CreatedAt         time.Time            `bson:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt"`
}

type transactionDoc struct {
	ID                     string               `bson:"_id"`
	ScheduledTransactionID string               `bson:"scheduledTransactionId"`
	AccountID              string               `bson:"accountId"`
	CategoryID             string               `bson:"categoryId"`
	Amount                 primitive.Decimal128 `bson:"amount"`
	Type                   string               `bson:"type"`
	Description            string               `bson:"description"`
	Payee                  string               `bson:"payee"`
	Tags                   []string             `bson:"tags"`
	Date                   string               `bson:"date"`
	CreatedAt              time.Time            `bson:"createdAt"`
	LedgerRef              string               `bson:"ledgerRef,omitempty"`
	ExportedAt             *time.Time           `bson:"exportedAt,omitempty"`
}

func toDecimal128(m core.Money) (primitive.Decimal128, error) {
	d, err := primitive.ParseDecimal128(m.StringFixed(2))
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode amount %s: %w", m, err)
	}
	return d, nil
}

func fromDecimal128(d primitive.Decimal128) (core.Money, error) {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return core.Money{}, fmt.Errorf("decode amount %s: %w", d, err)
	}
	return core.NewMoney(v), nil
}

func toScheduleDoc(s core.ScheduledTransaction) (scheduleDoc, error) {
	amount, err := toDecimal128(s.Amount)
	if err != nil {
		return scheduleDoc{}, err
	}
	return scheduleDoc{
		ID:                s.ID,
		AccountID:         s.AccountID,
		CategoryID:        s.CategoryID,
		Amount:            amount,
		Type:              string(s.Type),
		Description:       s.Description,
		Payee:             s.Payee,
		Tags:              s.Tags,
		Frequency:         string(s.Frequency),
		DayOfWeek:         s.DayOfWeek,
		DayOfMonth:        s.DayOfMonth,
		MonthOfYear:       s.MonthOfYear,
		StartDate:         s.StartDate.String(),
		EndDate:           s.EndDate.String(),
		NextExecutionDate: s.NextExecutionDate.String(),
		LastExecutionDate: s.LastExecutionDate.String(),
		AutoExecute:       s.AutoExecute,
		Status:            string(s.Status),
		InsufficientFunds: s.InsufficientFunds,
		BlockedSince:      s.BlockedSince.String(),
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}, nil
}

func (d scheduleDoc) toDomain() (core.ScheduledTransaction, error) {
	s := core.ScheduledTransaction{
		ID:                d.ID,
		AccountID:         d.AccountID,
		CategoryID:        d.CategoryID,
		Type:              core.TransactionType(d.Type),
		Description:       d.Description,
		Payee:             d.Payee,
		Tags:              d.Tags,
		Frequency:         core.Frequency(d.Frequency),
		Anchor:            core.Anchor{DayOfWeek: d.DayOfWeek, DayOfMonth: d.DayOfMonth, MonthOfYear: d.MonthOfYear},
		AutoExecute:       d.AutoExecute,
		Status:            core.Status(d.Status),
		InsufficientFunds: d.InsufficientFunds,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	var err error
	if s.Amount, err = fromDecimal128(d.Amount); err != nil {
		return s, err
	}
	dates := []struct {
		dst *core.Date
		src string
	}{
		{&s.StartDate, d.StartDate},
		{&s.EndDate, d.EndDate},
		{&s.NextExecutionDate, d.NextExecutionDate},
		{&s.LastExecutionDate, d.LastExecutionDate},
		{&s.BlockedSince, d.BlockedSince},
	}
	for _, f := range dates {
		if *f.dst, err = core.ParseDate(f.src); err != nil {
			return s, err
		}
	}
	return s, nil
}

func toTransactionDoc(tx core.Transaction) (transactionDoc, error) {
	amount, err := toDecimal128(tx.Amount)
	if err != nil {
		return transactionDoc{}, err
	}
	return transactionDoc{
		ID:                     tx.ID,
		ScheduledTransactionID: tx.ScheduledTransactionID,
		AccountID:              tx.AccountID,
		CategoryID:             tx.CategoryID,
		Amount:                 amount,
		Type:                   string(tx.Type),
		Description:            tx.Description,
		Payee:                  tx.Payee,
		Tags:                   tx.Tags,
		Date:                   tx.Date.String(),
		CreatedAt:              tx.CreatedAt,
		LedgerRef:              tx.LedgerRef,
	}, nil
}

func (d transactionDoc) toDomain() (core.Transaction, error) {
	tx := core.Transaction{
		ID:                     d.ID,
		ScheduledTransactionID: d.ScheduledTransactionID,
		AccountID:              d.AccountID,
		CategoryID:             d.CategoryID,
		Type:                   core.TransactionType(d.Type),
		Description:            d.Description,
		Payee:                  d.Payee,
		Tags:                   d.Tags,
		CreatedAt:              d.CreatedAt.UTC(),
		LedgerRef:              d.LedgerRef,
	}
	var err error
	if tx.Amount, err = fromDecimal128(d.Amount); err != nil {
		return tx, err
	}
	if tx.Date, err = core.ParseDate(d.Date); err != nil {
		return tx, err
	}
	return tx, nil
}

// scheduleFilter translates a ScheduleFilter into a query document.
func scheduleFilter(f core.ScheduleFilter) bson.D {
	q := bson.D{}
	if f.Status != "" {
		q = append(q, bson.E{Key: "status", Value: string(f.Status)})
	}
	if f.Frequency != "" {
		q = append(q, bson.E{Key: "frequency", Value: string(f.Frequency)})
	}
	if f.AccountID != "" {
		q = append(q, bson.E{Key: "accountId", Value: f.AccountID})
	}
	if f.CategoryID != "" {
		q = append(q, bson.E{Key: "categoryId", Value: f.CategoryID})
	}
	next := bson.D{}
	if !f.NextFrom.IsEmpty() {
		next = append(next, bson.E{Key: "$gte", Value: f.NextFrom.String()})
	}
	if !f.NextTo.IsEmpty() {
		next = append(next, bson.E{Key: "$lte", Value: f.NextTo.String()})
	}
	if len(next) > 0 {
		q = append(q, bson.E{Key: "nextExecutionDate", Value: next})
	}
	if f.InsufficientFunds != nil {
		q = append(q, bson.E{Key: "insufficientFunds", Value: *f.InsufficientFunds})
	}
	return q
}
