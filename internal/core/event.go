package core

import "time"

const (
	EventExecuted          EventType = "executed"
	EventInsufficientFunds EventType = "insufficientFunds"
	EventScheduleCompleted EventType = "scheduleCompleted"
	EventExecutionFailed   EventType = "executionFailed"
)

type EventType string

// Event is emitted by the execution engine for every notable outcome.
type Event struct {
	ID                     string    `json:"id"`
	Type                   EventType `json:"type"`
	OccurredAt             time.Time `json:"occurredAt"`
	ScheduledTransactionID string    `json:"scheduledTransactionId"`
	AccountID              string    `json:"accountId"`
	Amount                 Money     `json:"amount"`
	Date                   Date      `json:"date"`
	TransactionID          string    `json:"transactionId,omitempty"`
	Error                  string    `json:"error,omitempty"`
}

// NewEvent fills the schedule fields of an event for one occurrence.
func NewEvent(id string, typ EventType, s ScheduledTransaction, occurrence Date, at time.Time) Event {
	return Event{
		ID:                     id,
		Type:                   typ,
		OccurredAt:             at,
		ScheduledTransactionID: s.ID,
		AccountID:              s.AccountID,
		Amount:                 s.SignedAmount(),
		Date:                   occurrence,
	}
}
