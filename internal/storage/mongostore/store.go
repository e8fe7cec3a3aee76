package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements the schedule, transaction and export ports on MongoDB.
type Store struct {
	schedules    Collection
	transactions Collection
	now          func() time.Time
}

func New(schedules, transactions Collection) *Store {
	return &Store{schedules: schedules, transactions: transactions, now: time.Now}
}

// NewFromDatabase wires the store to the named collections of db.
func NewFromDatabase(db *mongo.Database) *Store {
	return New(db.Collection(SchedulesCollection), db.Collection(TransactionsCollection))
}

// Create implements ports.ScheduleWriter
func (s *Store) Create(ctx context.Context, st core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	now := s.now().UTC()
	st.Version = 1
	st.CreatedAt, st.UpdatedAt = now, now
	doc, err := toScheduleDoc(st)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	if _, err := s.schedules.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", st.ID, core.ErrConflict)
		}
		return core.ScheduledTransaction{}, fmt.Errorf("insert schedule: %w", err)
	}
	slog.InfoContext(ctx, "Schedule saved to MongoDB", "id", st.ID, "account_id", st.AccountID)
	return st, nil
}

// Get implements ports.ScheduleReader
func (s *Store) Get(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	var doc scheduleDoc
	err := s.schedules.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("find schedule %s: %w", id, err)
	}
	return doc.toDomain()
}

// List implements ports.ScheduleReader
func (s *Store) List(ctx context.Context, f core.ScheduleFilter) ([]core.ScheduledTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "nextExecutionDate", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.schedules.Find(ctx, scheduleFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("find schedules: %w", err)
	}
	var docs []scheduleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	out := make([]core.ScheduledTransaction, 0, len(docs))
	for _, d := range docs {
		st, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Update implements ports.ScheduleWriter
func (s *Store) Update(ctx context.Context, st core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	expected := st.Version
	st.Version++
	st.UpdatedAt = s.now().UTC()
	doc, err := toScheduleDoc(st)
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	res, err := s.schedules.ReplaceOne(ctx, bson.D{{Key: "_id", Value: st.ID}, {Key: "version", Value: expected}}, doc)
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("replace schedule %s: %w", st.ID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, st.ID); err != nil {
			return core.ScheduledTransaction{}, err
		}
		return core.ScheduledTransaction{}, fmt.Errorf("schedule %s version %d: %w", st.ID, expected, core.ErrConflict)
	}
	return st, nil
}

// Delete implements ports.ScheduleWriter
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.schedules.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("schedule %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Record implements ports.TransactionRecorder
func (s *Store) Record(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	doc, err := toTransactionDoc(tx)
	if err != nil {
		return core.Transaction{}, err
	}
	_, err = s.transactions.InsertOne(ctx, doc)
	if err == nil {
		return tx, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	var existing transactionDoc
	filter := bson.D{{Key: "scheduledTransactionId", Value: tx.ScheduledTransactionID}, {Key: "date", Value: tx.Date.String()}}
	if err := s.transactions.FindOne(ctx, filter).Decode(&existing); err != nil {
		return core.Transaction{}, fmt.Errorf("load recorded transaction: %w", err)
	}
	return existing.toDomain()
}

// ListBySchedule implements ports.TransactionLister
func (s *Store) ListBySchedule(ctx context.Context, scheduleID string) ([]core.Transaction, error) {
	return s.findTransactions(ctx, bson.D{{Key: "scheduledTransactionId", Value: scheduleID}},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
}

// GetTransaction implements ports.ExportQueue
func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	var doc transactionDoc
	err := s.transactions.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find transaction %s: %w", id, err)
	}
	return doc.toDomain()
}

// PendingExports implements ports.ExportQueue
func (s *Store) PendingExports(ctx context.Context, limit int) ([]core.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return s.findTransactions(ctx, bson.D{{Key: "exportedAt", Value: bson.D{{Key: "$exists", Value: false}}}}, opts)
}

// MarkExported implements ports.ExportQueue
func (s *Store) MarkExported(ctx context.Context, id string, ledgerRef string) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "ledgerRef", Value: ledgerRef},
		{Key: "exportedAt", Value: s.now().UTC()},
	}}}
	res, err := s.transactions.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mark transaction %s exported: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) findTransactions(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]core.Transaction, error) {
	cur, err := s.transactions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(docs))
	for _, d := range docs {
		tx, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
